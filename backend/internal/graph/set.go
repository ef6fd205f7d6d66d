package graph

import "github.com/ethereum/go-ethereum/common"

// addressSet is an insertion-ordered set. Removal keeps the order of the rest.
type addressSet struct {
	items []common.Address
	index map[common.Address]int
}

func newAddressSet() *addressSet {
	return &addressSet{index: make(map[common.Address]int)}
}

func (s *addressSet) has(addr common.Address) bool {
	_, ok := s.index[addr]
	return ok
}

func (s *addressSet) add(addr common.Address) bool {
	if s.has(addr) {
		return false
	}
	s.index[addr] = len(s.items)
	s.items = append(s.items, addr)
	return true
}

func (s *addressSet) remove(addr common.Address) bool {
	i, ok := s.index[addr]
	if !ok {
		return false
	}
	copy(s.items[i:], s.items[i+1:])
	s.items = s.items[:len(s.items)-1]
	delete(s.index, addr)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j]] = j
	}
	return true
}

func (s *addressSet) len() int {
	return len(s.items)
}

// list returns a copy, never nil
func (s *addressSet) list() []common.Address {
	out := make([]common.Address, len(s.items))
	copy(out, s.items)
	return out
}

func (s *addressSet) clone() *addressSet {
	c := &addressSet{
		items: make([]common.Address, len(s.items)),
		index: make(map[common.Address]int, len(s.index)),
	}
	copy(c.items, s.items)
	for k, v := range s.index {
		c.index[k] = v
	}
	return c
}

// record is the stored state of one address
type record struct {
	following *addressSet
	followers *addressSet
}

func newRecord() *record {
	return &record{following: newAddressSet(), followers: newAddressSet()}
}

func (r *record) clone() *record {
	return &record{following: r.following.clone(), followers: r.followers.clone()}
}
