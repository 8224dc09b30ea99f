package webhooks

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/eventgate/eventgate/pkg/httputil"
)

// Handlers provides the HTTP administration surface for subscriptions.
type Handlers struct {
	dispatcher *Dispatcher
}

// NewHandlers creates subscription admin handlers.
func NewHandlers(dispatcher *Dispatcher) *Handlers {
	return &Handlers{dispatcher: dispatcher}
}

// RegisterRoutes registers subscription routes on the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/subscriptions", h.createSubscription).Methods("POST")
	router.HandleFunc("/subscriptions", h.listSubscriptions).Methods("GET")
	router.HandleFunc("/subscriptions/{id}", h.getSubscription).Methods("GET")
	router.HandleFunc("/subscriptions/{id}", h.updateSubscription).Methods("PUT")
	router.HandleFunc("/subscriptions/{id}", h.deleteSubscription).Methods("DELETE")
	router.HandleFunc("/subscriptions/{id}/activate", h.activateSubscription).Methods("POST")
	router.HandleFunc("/subscriptions/{id}/deactivate", h.deactivateSubscription).Methods("POST")
	router.HandleFunc("/subscriptions/{id}/deliveries", h.listDeliveries).Methods("GET")
	router.HandleFunc("/subscriptions/{id}/stats", h.deliveryStats).Methods("GET")
}

func (h *Handlers) createSubscription(w http.ResponseWriter, r *http.Request) {
	var sub Subscription
	if !httputil.ParseJSONOrError(w, r, &sub) {
		return
	}
	if err := h.dispatcher.Register(&sub); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}
	httputil.WriteCreated(w, sub)
}

func (h *Handlers) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.dispatcher.List())
}

func (h *Handlers) getSubscription(w http.ResponseWriter, r *http.Request) {
	id, _ := httputil.PathVar(r, "id")
	sub, err := h.dispatcher.Get(id)
	if err != nil {
		httputil.WriteNotFound(w, err.Error())
		return
	}
	httputil.WriteSuccess(w, sub)
}

func (h *Handlers) updateSubscription(w http.ResponseWriter, r *http.Request) {
	id, _ := httputil.PathVar(r, "id")

	var updates Subscription
	if !httputil.ParseJSONOrError(w, r, &updates) {
		return
	}
	if err := h.dispatcher.Update(id, &updates); err != nil {
		if err.Error() == "subscription not found" {
			httputil.WriteNotFound(w, err.Error())
		} else {
			httputil.WriteError(w, http.StatusBadRequest, err)
		}
		return
	}
	sub, _ := h.dispatcher.Get(id)
	httputil.WriteSuccess(w, sub)
}

func (h *Handlers) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, _ := httputil.PathVar(r, "id")
	if err := h.dispatcher.Unregister(id); err != nil {
		httputil.WriteNotFound(w, err.Error())
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) activateSubscription(w http.ResponseWriter, r *http.Request) {
	id, _ := httputil.PathVar(r, "id")
	if err := h.dispatcher.Activate(id); err != nil {
		httputil.WriteNotFound(w, err.Error())
		return
	}
	sub, _ := h.dispatcher.Get(id)
	httputil.WriteSuccess(w, sub)
}

func (h *Handlers) deactivateSubscription(w http.ResponseWriter, r *http.Request) {
	id, _ := httputil.PathVar(r, "id")
	if err := h.dispatcher.Deactivate(id); err != nil {
		httputil.WriteNotFound(w, err.Error())
		return
	}
	sub, _ := h.dispatcher.Get(id)
	httputil.WriteSuccess(w, sub)
}

func (h *Handlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	id, _ := httputil.PathVar(r, "id")
	if _, err := h.dispatcher.Get(id); err != nil {
		httputil.WriteNotFound(w, err.Error())
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	logs := h.dispatcher.Logs().GetBySubscription(id, limit)
	if logs == nil {
		logs = []*DeliveryLog{}
	}
	httputil.WriteSuccess(w, logs)
}

func (h *Handlers) deliveryStats(w http.ResponseWriter, r *http.Request) {
	id, _ := httputil.PathVar(r, "id")
	if _, err := h.dispatcher.Get(id); err != nil {
		httputil.WriteNotFound(w, err.Error())
		return
	}
	httputil.WriteSuccess(w, h.dispatcher.Logs().GetStats(id))
}
