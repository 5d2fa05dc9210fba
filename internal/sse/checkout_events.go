package sse

import (
	"context"
	"sync"

	"ms-booking/internal/models"
)

// OrderEventEmitter fans order status changes out to SSE subscribers, keyed by order id.
type OrderEventEmitter struct {
	clients map[string][]chan models.OrderEvent
	mu      sync.RWMutex
}

func NewOrderEventEmitter() *OrderEventEmitter {
	return &OrderEventEmitter{
		clients: make(map[string][]chan models.OrderEvent),
	}
}

// Subscribe returns a channel that is closed once ctx is done.
func (e *OrderEventEmitter) Subscribe(ctx context.Context, orderID string) <-chan models.OrderEvent {
	clientChan := make(chan models.OrderEvent, 10)

	e.mu.Lock()
	e.clients[orderID] = append(e.clients[orderID], clientChan)
	e.mu.Unlock()

	// Remove client when context is done
	go func() {
		<-ctx.Done()
		e.remove(orderID, clientChan)
	}()

	return clientChan
}

// Emit never blocks; a subscriber with a full buffer misses the event.
func (e *OrderEventEmitter) Emit(event models.OrderEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, clientChan := range e.clients[event.OrderID] {
		select {
		case clientChan <- event:
		default:
		}
	}
}

func (e *OrderEventEmitter) remove(orderID string, clientChan chan models.OrderEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[orderID]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[orderID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	// Clean up map entry if no more clients
	if len(e.clients[orderID]) == 0 {
		delete(e.clients, orderID)
	}
}

// ClientCount returns the number of subscribers for an order.
func (e *OrderEventEmitter) ClientCount(orderID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[orderID])
}
