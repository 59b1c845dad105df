// Copyright 2025 Filippo Rossi
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package grip

// pageList is an intrusive doubly linked list of pages. Link fields
// live in the page itself, so insert and remove are O(1) with no
// side allocations. A page belongs to at most one list at a time.
type pageList struct {
	head, tail *page
}

func (l *pageList) Contains(p *page) bool {
	return p.prev != nil || p.next != nil || p == l.head
}

func (l *pageList) Remove(p *page) {
	if l.Contains(p) {
		l.unlink(p)
	}
}

func (l *pageList) PushFront(p *page) {
	if l.head == nil {
		l.head = p
		l.tail = p
	} else {
		p.next = l.head
		l.head.prev = p
		l.head = p
	}
}

func (l *pageList) PushBack(p *page) {
	if l.tail == nil {
		l.head = p
		l.tail = p
	} else {
		p.prev = l.tail
		l.tail.next = p
		l.tail = p
	}
}

func (l *pageList) Len() int {
	n := 0
	for p := l.head; p != nil; p = p.next {
		n++
	}
	return n
}

func (l *pageList) unlink(p *page) {
	prev, next := p.prev, p.next
	p.prev, p.next = nil, nil

	if prev == nil {
		l.head = next
	} else {
		prev.next = next
	}

	if next == nil {
		l.tail = prev
	} else {
		next.prev = prev
	}
}
