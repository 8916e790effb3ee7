package wampy

import (
	"fmt"
	"sync"
)

// ProcedureEntry binds a router-assigned registration id to a local procedure.
type ProcedureEntry struct {
	Owner     string
	Procedure string
	Policy    InvocationPolicy
	Fn        ProcedureFn
}

// SubscriptionEntry binds a router-assigned subscription id to a local handler.
type SubscriptionEntry struct {
	Owner   string
	Topic   string
	Handler EventHandler
}

type pendingEntry struct {
	owner   string
	name    string
	policy  InvocationPolicy
	fn      ProcedureFn
	handler EventHandler
}

// Registry correlates protocol identifiers with local intent. It holds the
// pending REGISTER/SUBSCRIBE requests awaiting confirmation, the confirmed
// registrations and subscriptions, and the named client instances of the
// process. One Registry is shared by every session a process runs, so all
// operations are safe for concurrent use from multiple session readers.
//
// Registration and subscription ids are assigned by the router and treated as
// opaque; the Registry never invents or reuses them.
type Registry struct {
	mu            sync.RWMutex
	pending       map[int64]pendingEntry
	registrations map[int64]ProcedureEntry
	subscriptions map[int64]SubscriptionEntry
	clients       map[string]Client
}

// NewRegistry returns an empty Registry. Sessions receive the Registry
// explicitly; tests typically give each scenario its own.
func NewRegistry() *Registry {
	return &Registry{
		pending:       make(map[int64]pendingEntry),
		registrations: make(map[int64]ProcedureEntry),
		subscriptions: make(map[int64]SubscriptionEntry),
		clients:       make(map[string]Client),
	}
}

// RecordPendingProcedure records an outbound REGISTER request so the matching
// REGISTERED can later be resolved to fn.
func (r *Registry) RecordPendingProcedure(requestID int64, owner, procedure string, policy InvocationPolicy, fn ProcedureFn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[requestID] = pendingEntry{owner: owner, name: procedure, policy: policy, fn: fn}
}

// RecordPendingSubscription records an outbound SUBSCRIBE request so the
// matching SUBSCRIBED can later be resolved to handler.
func (r *Registry) RecordPendingSubscription(requestID int64, owner, topic string, handler EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[requestID] = pendingEntry{owner: owner, name: topic, handler: handler}
}

// ResolveRegistration consumes the pending request and binds the registration
// id the router assigned. Future INVOCATIONs referencing registrationID
// dispatch to the recorded procedure.
func (r *Registry) ResolveRegistration(requestID, registrationID int64) (ProcedureEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[requestID]
	if !ok || p.fn == nil {
		return ProcedureEntry{}, &ProtocolError{
			Message: fmt.Sprintf("REGISTERED for unknown request id %d", requestID),
		}
	}
	delete(r.pending, requestID)

	entry := ProcedureEntry{Owner: p.owner, Procedure: p.name, Policy: p.policy, Fn: p.fn}
	r.registrations[registrationID] = entry
	return entry, nil
}

// ResolveSubscription consumes the pending request and binds the subscription
// id the router assigned.
func (r *Registry) ResolveSubscription(requestID, subscriptionID int64) (SubscriptionEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[requestID]
	if !ok || p.handler == nil {
		return SubscriptionEntry{}, &ProtocolError{
			Message: fmt.Sprintf("SUBSCRIBED for unknown request id %d", requestID),
		}
	}
	delete(r.pending, requestID)

	entry := SubscriptionEntry{Owner: p.owner, Topic: p.name, Handler: p.handler}
	r.subscriptions[subscriptionID] = entry
	return entry, nil
}

// LookupProcedure resolves a registration id to its procedure. An unknown id
// means the router referenced an identifier this process never requested.
func (r *Registry) LookupProcedure(registrationID int64) (ProcedureEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.registrations[registrationID]
	if !ok {
		return ProcedureEntry{}, &ProtocolError{
			Message: fmt.Sprintf("INVOCATION for unknown registration id %d", registrationID),
		}
	}
	return entry, nil
}

// LookupSubscriptionHandler resolves a subscription id to its event handler.
func (r *Registry) LookupSubscriptionHandler(subscriptionID int64) (SubscriptionEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.subscriptions[subscriptionID]
	if !ok {
		return SubscriptionEntry{}, &ProtocolError{
			Message: fmt.Sprintf("EVENT for unknown subscription id %d", subscriptionID),
		}
	}
	return entry, nil
}

// RegisterClient records a named client instance for introspection and logging.
func (r *Registry) RegisterClient(name string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = c
}

// LookupClient returns the client registered under name.
func (r *Registry) LookupClient(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// ClientNames lists the names of every registered client.
func (r *Registry) ClientNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}
