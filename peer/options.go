package peer

import "github.com/tortoisedoc/wampy"

// Option customizes a Peer at construction time.
type Option func(*Peer)

// WithRegistry shares an existing registry instead of giving the client its
// own. Clients in one process typically share a registry so their sessions
// resolve each other's identifiers consistently.
func WithRegistry(r *wampy.Registry) Option {
	return func(p *Peer) {
		if r != nil {
			p.registry = r
		}
	}
}

// WithProcedure declares a procedure to register during Start. An empty
// policy defaults to wampy.PolicySingle.
func WithProcedure(name string, fn wampy.ProcedureFn, policy wampy.InvocationPolicy) Option {
	return func(p *Peer) {
		p.procedures = append(p.procedures, declaredProcedure{name: name, fn: fn, policy: policy})
	}
}

// WithSubscription declares a topic subscription to register during Start.
func WithSubscription(topic string, handler wampy.EventHandler) Option {
	return func(p *Peer) {
		p.subscriptions = append(p.subscriptions, declaredSubscription{topic: topic, handler: handler})
	}
}
