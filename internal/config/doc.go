// Package config provides configuration loading for fastivite projects.
//
// Configuration lives in fastivite.json (or fastivite.toml) at the project
// root. Every field is optional; command-line flags override file values.
//
// # Configuration File Structure
//
//	{
//	  "dev": {
//	    "host": "127.0.0.1",
//	    "port": 6754,
//	    "base": "",
//	    "index": "./index.html",
//	    "entryServer": "./src/entry-server.tsx",
//	    "buildDir": "build"
//	  },
//	  "build": {
//	    "outDir": "dist",
//	    "minify": true,
//	    "extraModules": {"prisma": "./src/prisma.ts"}
//	  },
//	  "api": {
//	    "cwd": "./src/pages",
//	    "patterns": ["**/api.ts", "**/api/index.ts"]
//	  },
//	  "graphql": {
//	    "enabled": false,
//	    "schema": {"cwd": "./src/graphql/schema", "patterns": ["**/*.gql", "**/*.graphql"]}
//	  },
//	  "publish": {
//	    "bucket": "my-assets",
//	    "prefix": "static/"
//	  }
//	}
//
// # Usage
//
//	cfg, err := config.Load("./fastivite.json")
//	if err != nil {
//	    return err
//	}
//	if err := config.LoadEnv(cfg.Dir()); err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Abs(cfg.API.Cwd))
package config
