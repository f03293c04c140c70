package reactor

import "errors"

// ErrAlreadyRegistered is returned by Reactor.Register when a notifier
// already belongs to a reactor: a Notifier may belong to at most one
// reactor at a time.
var ErrAlreadyRegistered = errors.New("reactor: notifier already registered with a reactor")

// Notifier is the unit of membership in a [Reactor]. Handle, Stream,
// Datagram, and Listener all implement it via an embedded *notifierBase.
type Notifier interface {
	base() *notifierBase
	// added is invoked once membership in r is established, after any
	// parent has already been added.
	added(r *Reactor) error
	// removed is invoked while membership is torn down, after its
	// children and before any parent are removed; base().reactor still
	// names the reactor during the call.
	removed()
}

// notifierBase implements the parent/child tree shared by every Notifier.
// Parent links are non-owning; children are owned by their parent.
type notifierBase struct {
	parent   Notifier
	children []Notifier
	reactor  *Reactor
}

func (b *notifierBase) base() *notifierBase { return b }

// addChild attaches child under parent. If parent already belongs to a
// reactor, child (and transitively, its own children) are registered
// immediately. Reactor.Register does not check for a parent, so it also
// accepts a notifier that has one.
func addChild(parent, child Notifier) error {
	pb := parent.base()
	cb := child.base()
	if cb.reactor != nil {
		return ErrAlreadyRegistered
	}
	cb.parent = parent
	pb.children = append(pb.children, child)
	if pb.reactor != nil {
		return pb.reactor.registerTree(child)
	}
	return nil
}

// removeChild detaches child from parent, unregistering it (and its
// descendants) from any reactor first.
func removeChild(parent, child Notifier) {
	pb := parent.base()
	cb := child.base()
	if cb.reactor != nil {
		cb.reactor.unregisterTree(child)
	}
	for i, c := range pb.children {
		if c == child {
			pb.children = append(pb.children[:i], pb.children[i+1:]...)
			break
		}
	}
	cb.parent = nil
}

// Parent returns n's parent notifier, or nil if n is a root.
func Parent(n Notifier) Notifier { return n.base().parent }

// Children returns a copy of n's child notifiers.
func Children(n Notifier) []Notifier {
	c := n.base().children
	out := make([]Notifier, len(c))
	copy(out, c)
	return out
}

// InReactor reports whether n currently belongs to a reactor.
func InReactor(n Notifier) bool { return n.base().reactor != nil }
