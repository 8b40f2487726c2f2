// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pool

import "container/list"

// readyPool is an LRU-ordered set of healthy, available-for-checkout
// connections, most-recently-returned first. It is the Go analogue of the
// original's LRUCache<ConnectionInterface*, OwnedConnection>: a doubly
// linked list gives O(1) push-front and O(1) removal by element, and the
// index map gives O(1) lookup-by-connection for cancellation and takeover.
type readyPool struct {
	order *list.List // front = MRU
	index map[Connection]*list.Element
}

func newReadyPool() *readyPool {
	return &readyPool{
		order: list.New(),
		index: make(map[Connection]*list.Element),
	}
}

// add makes conn the new most-recently-used entry.
func (p *readyPool) add(conn Connection) {
	elem := p.order.PushFront(conn)
	p.index[conn] = elem
}

// takeMRU removes and returns the most-recently-used connection, or nil if
// the pool is empty.
func (p *readyPool) takeMRU() Connection {
	elem := p.order.Front()
	if elem == nil {
		return nil
	}
	conn := elem.Value.(Connection)
	p.order.Remove(elem)
	delete(p.index, conn)
	return conn
}

// take removes a specific connection (used when its idle-refresh timer
// fires while it is still ready), reporting whether it was present.
func (p *readyPool) take(conn Connection) bool {
	elem, ok := p.index[conn]
	if !ok {
		return false
	}
	p.order.Remove(elem)
	delete(p.index, conn)
	return true
}

func (p *readyPool) len() int {
	return len(p.index)
}

func (p *readyPool) clear() []Connection {
	conns := make([]Connection, 0, len(p.index))
	for elem := p.order.Front(); elem != nil; elem = elem.Next() {
		conns = append(conns, elem.Value.(Connection))
	}
	p.order.Init()
	p.index = make(map[Connection]*list.Element)
	return conns
}
