package conn

import "sort"

type registered struct {
	id HandlerID
	h  Handler
}

// registry holds subscriptions independent of any transport. Not safe for
// concurrent use; the Manager guards it.
type registry struct {
	next    HandlerID
	byEvent map[string][]registered
}

func newRegistry() *registry {
	return &registry{byEvent: make(map[string][]registered)}
}

func (r *registry) add(event string, h Handler) HandlerID {
	r.next++
	r.byEvent[event] = append(r.byEvent[event], registered{id: r.next, h: h})
	return r.next
}

func (r *registry) remove(event string, id HandlerID) bool {
	list := r.byEvent[event]
	for i, e := range list {
		if e.id != id {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(r.byEvent, event)
		} else {
			r.byEvent[event] = list
		}
		return true
	}
	return false
}

// handlers returns a copy of the handlers for event in registration order.
func (r *registry) handlers(event string) []registered {
	list := r.byEvent[event]
	out := make([]registered, len(list))
	copy(out, list)
	return out
}

// events returns the subscribed event names, sorted.
func (r *registry) events() []string {
	out := make([]string, 0, len(r.byEvent))
	for ev := range r.byEvent {
		out = append(out, ev)
	}
	sort.Strings(out)
	return out
}

func (r *registry) len() int {
	n := 0
	for _, list := range r.byEvent {
		n += len(list)
	}
	return n
}
