package root

import (
	"github.com/GunterMueller/shades/internal/word"
)

// SmartPtrs is a process-wide doubly linked list of externally-rooted pointers. A host-language
// caller inits a slot with a value, may reassign it across an arbitrary number of operations
// (including commits), and must uninit it before the list entry is freed. During commit the
// engine treats every active slot as a root, updating the contained pointer after copying.
//
// One SmartPtrs belongs to one database instance; it is not a package-level global, so that
// tests (and, eventually, multiple open databases in one process) don't share list state.
type SmartPtrs struct {
	head *SmartPtr
}

// NewSmartPtrs creates an empty smart-pointer list.
func NewSmartPtrs() *SmartPtrs {
	return &SmartPtrs{}
}

// SmartPtr is one externally-rooted pointer slot. Its zero value is uninitialized; it must be
// Init'd before Assign or Ref, and Uninit before it is discarded.
type SmartPtr struct {
	owner *SmartPtrs
	next  *SmartPtr
	prev  *SmartPtr

	value       word.Pointer
	initialized bool
}

// Init registers ptr with the list, rooting value. Initializing an already-initialized SmartPtr
// is a programming error and panics, mirroring the source's fatal abort on double-init.
func (s *SmartPtrs) Init(ptr *SmartPtr, value word.Pointer) {
	if ptr.initialized {
		panic("root: double Init of a SmartPtr")
	}

	ptr.owner = s
	ptr.value = value
	ptr.initialized = true

	ptr.next = s.head
	ptr.prev = nil

	if s.head != nil {
		s.head.prev = ptr
	}

	s.head = ptr
}

// Uninit removes ptr from the list. Uninitializing a SmartPtr that was never Init'd, or that has
// already been Uninit'd, is a programming error and panics.
func (s *SmartPtrs) Uninit(ptr *SmartPtr) {
	if !ptr.initialized {
		panic("root: Uninit of a SmartPtr that was never Init'd")
	}

	if ptr.owner != s {
		panic("root: Uninit called on the wrong SmartPtrs list")
	}

	if ptr.prev != nil {
		ptr.prev.next = ptr.next
	} else {
		s.head = ptr.next
	}

	if ptr.next != nil {
		ptr.next.prev = ptr.prev
	}

	*ptr = SmartPtr{}
}

// Assign reassigns ptr's rooted value. ptr must already be Init'd.
func (ptr *SmartPtr) Assign(value word.Pointer) {
	if !ptr.initialized {
		panic("root: Assign on an uninitialized SmartPtr")
	}

	ptr.value = value
}

// Ref returns ptr's currently rooted value. ptr must already be Init'd.
func (ptr *SmartPtr) Ref() word.Pointer {
	if !ptr.initialized {
		panic("root: Ref on an uninitialized SmartPtr")
	}

	return ptr.value
}

// Walk invokes visit once for every active smart pointer's value slot, in list order, for the
// commit engine's rooted copying pass. visit may mutate the slot in place (to rebase it after
// copying).
func (s *SmartPtrs) Walk(visit func(p *word.Pointer)) {
	for n := s.head; n != nil; n = n.next {
		visit(&n.value)
	}
}
