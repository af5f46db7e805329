package jsrt

import (
	"context"
	"fmt"
)

// Pool is a fixed set of VMs prepared by the same setup function.
type Pool struct {
	vms  chan *VM
	size int
}

var _ Executor = (*Pool)(nil)

// NewPool creates size VMs and runs setup on each.
func NewPool(ctx context.Context, size int, opts Options, setup func(vm *VM) error) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{vms: make(chan *VM, size), size: size}
	base := opts.Name
	for i := 0; i < size; i++ {
		opts.Name = fmt.Sprintf("%s-%d", base, i)
		vm, err := New(opts)
		if err != nil {
			return nil, err
		}
		if setup != nil {
			if err := vm.Do(ctx, setup); err != nil {
				return nil, err
			}
		}
		p.vms <- vm
	}
	return p, nil
}

// Size returns the number of VMs.
func (p *Pool) Size() int {
	return p.size
}

// Do checks out a VM, runs fn on it and returns it to the pool. It blocks
// until a VM is free or ctx is done.
func (p *Pool) Do(ctx context.Context, fn func(vm *VM) error) error {
	select {
	case vm := <-p.vms:
		defer func() { p.vms <- vm }()
		return vm.Do(ctx, fn)
	case <-ctx.Done():
		return ctx.Err()
	}
}
