package dev

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

const (
	// ReloadPath is the live reload WebSocket endpoint.
	ReloadPath = "/_fastivite/reload"

	// ClientPath serves ClientScript.
	ClientPath = "/@fastivite/client.js"
)

// EventKind tells the browser what to do.
type EventKind string

const (
	EventReload EventKind = "reload"
	EventCSS    EventKind = "css"
	EventError  EventKind = "error"
	EventClear  EventKind = "clear"
)

// Event is one live reload message.
type Event struct {
	Kind  EventKind `json:"type"`
	Error string    `json:"error,omitempty"`
	File  string    `json:"file,omitempty"`
}

// peer is one connected browser. gorilla/websocket allows a single
// concurrent writer per connection.
type peer struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (p *peer) send(data []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// ReloadServer fans events out to connected browsers. While an error is
// showing, browsers that connect receive it straight away.
type ReloadServer struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	peers   map[*peer]struct{}
	showing string
}

// NewReloadServer creates a ReloadServer with no peers.
func NewReloadServer() *ReloadServer {
	return &ReloadServer{
		peers: map[*peer]struct{}{},
		upgrader: websocket.Upgrader{
			// The dev server is local; pages may be served from another port.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and keeps the peer until it disconnects.
func (r *ReloadServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	p := &peer{conn: conn}

	r.mu.Lock()
	r.peers[p] = struct{}{}
	showing := r.showing
	r.mu.Unlock()

	if showing != "" {
		if data, err := json.Marshal(Event{Kind: EventError, Error: showing}); err == nil {
			p.send(data)
		}
	}

	// Browsers never send anything; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	r.drop(p)
}

func (r *ReloadServer) drop(p *peer) {
	r.mu.Lock()
	delete(r.peers, p)
	r.mu.Unlock()
	p.conn.Close()
}

// NotifyReload asks every browser to reload the page.
func (r *ReloadServer) NotifyReload() {
	r.publish(Event{Kind: EventReload})
}

// NotifyCSS asks browsers to refetch the stylesheet at file, a URL path.
func (r *ReloadServer) NotifyCSS(file string) {
	r.publish(Event{Kind: EventCSS, File: file})
}

// NotifyError shows msg in the overlay until ClearError.
func (r *ReloadServer) NotifyError(msg string) {
	r.mu.Lock()
	r.showing = msg
	r.mu.Unlock()
	r.publish(Event{Kind: EventError, Error: msg})
}

// ClearError hides the overlay if one is showing.
func (r *ReloadServer) ClearError() {
	r.mu.Lock()
	was := r.showing
	r.showing = ""
	r.mu.Unlock()
	if was != "" {
		r.publish(Event{Kind: EventClear})
	}
}

// Showing returns the error currently in the overlay.
func (r *ReloadServer) Showing() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.showing
}

func (r *ReloadServer) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	r.mu.RLock()
	peers := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.RUnlock()

	for _, p := range peers {
		if err := p.send(data); err != nil {
			r.drop(p)
		}
	}
}

// ClientCount returns the number of connected browsers.
func (r *ReloadServer) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Close disconnects every browser.
func (r *ReloadServer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for p := range r.peers {
		p.conn.Close()
		delete(r.peers, p)
	}
}

// ServeClient serves ClientScript.
func ServeClient(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(ClientScript))
}

// ClientScript connects to ReloadPath and applies events. After a lost
// connection it retries and reloads once the dev server is back.
const ClientScript = `const OVERLAY = 'fastivite-error-overlay'
let retry = 500
let lost = false

function open() {
  const scheme = location.protocol === 'https:' ? 'wss:' : 'ws:'
  const socket = new WebSocket(scheme + '//' + location.host + '` + ReloadPath + `')
  socket.addEventListener('open', () => {
    retry = 500
    if (lost) location.reload()
  })
  socket.addEventListener('message', (e) => {
    let ev
    try {
      ev = JSON.parse(e.data)
    } catch {
      return
    }
    if (ev.type === 'reload') location.reload()
    else if (ev.type === 'css') refreshStyles(ev.file)
    else if (ev.type === 'error') overlay(ev.error)
    else if (ev.type === 'clear') document.getElementById(OVERLAY)?.remove()
  })
  socket.addEventListener('close', () => {
    lost = true
    setTimeout(open, retry)
    retry = Math.min(retry * 2, 10000)
  })
}

function refreshStyles(file) {
  const links = [...document.querySelectorAll('link[rel="stylesheet"]')]
  const matching = links.filter((l) => new URL(l.href).pathname === file)
  for (const link of matching.length ? matching : links) {
    const url = new URL(link.href)
    url.searchParams.set('t', String(Date.now()))
    link.href = url.href
  }
}

function overlay(text) {
  console.error('[fastivite] ' + text)
  document.getElementById(OVERLAY)?.remove()
  const box = document.createElement('div')
  box.id = OVERLAY
  box.style.cssText = 'position:fixed;inset:0;z-index:2147483647;overflow:auto;padding:24px;background:rgba(20,20,20,.95);color:#eee;font:13px/1.5 ui-monospace,monospace'
  const head = document.createElement('div')
  head.style.cssText = 'color:#f87171;font-weight:bold;margin-bottom:12px'
  head.textContent = '[fastivite] build failed'
  const body = document.createElement('pre')
  body.style.cssText = 'white-space:pre-wrap;margin:0'
  body.textContent = text
  box.append(head, body)
  box.addEventListener('click', () => box.remove())
  document.body.append(box)
}

open()
`
