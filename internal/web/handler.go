package web

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/votelab/votepipe/internal/metrics"
	"github.com/votelab/votepipe/internal/model"
	"github.com/votelab/votepipe/internal/queue"
	"github.com/votelab/votepipe/internal/store"
)

const voterCookie = "voter_id"

var page = template.Must(template.New("vote").Parse(`<!DOCTYPE html>
<html>
<head><title>Vote</title></head>
<body>
  <h1>{{.OptionA}} vs {{.OptionB}}</h1>
  <form method="POST" action="/">
    <button name="vote" value="a">{{.OptionA}}</button>
    <button name="vote" value="b">{{.OptionB}}</button>
  </form>
  {{if .Voted}}<p>You voted for {{.Voted}}</p>{{end}}
</body>
</html>
`))

// Handler is the vote front end: it assigns each browser a stable
// voter_id cookie and enqueues submitted votes. It never writes to the
// durable store; that is the worker's job.
type Handler struct {
	queue   *queue.Queue
	store   *store.Store
	metrics *metrics.FrontendMetrics

	optionA string
	optionB string
}

func NewHandler(q *queue.Queue, s *store.Store, m *metrics.FrontendMetrics, optionA, optionB string) *Handler {
	return &Handler{queue: q, store: s, metrics: m, optionA: optionA, optionB: optionB}
}

// Routes mounts the front end endpoints on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Get("/", h.votePage)
	r.Post("/", h.submitVote)
	r.Get("/stats", h.stats)
	return r
}

func (h *Handler) votePage(w http.ResponseWriter, r *http.Request) {
	voterID := h.ensureVoterID(w, r)
	h.render(w, voterID, "")
}

func (h *Handler) submitVote(w http.ResponseWriter, r *http.Request) {
	voterID := h.ensureVoterID(w, r)

	choice, ok := model.ParseChoice(r.PostFormValue("vote"))
	if !ok {
		http.Error(w, "vote must be a or b", http.StatusBadRequest)
		return
	}

	event := model.VoteEvent{VoterID: voterID, Vote: choice}
	if err := h.queue.Push(r.Context(), event); err != nil {
		log.WithError(err).Error("failed to enqueue vote")
		h.metrics.QueueConnected.Set(0)
		http.Error(w, "vote could not be accepted, try again", http.StatusServiceUnavailable)
		return
	}
	h.metrics.QueueConnected.Set(1)
	h.metrics.VotesSubmitted.WithLabelValues(string(choice)).Inc()
	log.Infof("enqueued vote by %s for %s", voterID, choice)

	label := h.optionA
	if choice == model.ChoiceB {
		label = h.optionB
	}
	h.render(w, voterID, label)
}

// stats reads the current tally straight from the durable store. It is
// a convenience view, not the live broadcast channel.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	tally, err := h.store.Tally(r.Context())
	if err != nil {
		log.WithError(err).Error("failed to read tally")
		h.metrics.StoreConnected.Set(0)
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}
	h.metrics.StoreConnected.Set(1)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_votes": tally.Total(),
		"a":           tally.A,
		"b":           tally.B,
		"options":     map[string]string{"a": h.optionA, "b": h.optionB},
	})
}

func (h *Handler) render(w http.ResponseWriter, voterID, voted string) {
	data := struct {
		OptionA, OptionB, Voted string
	}{h.optionA, h.optionB, voted}
	if err := page.Execute(w, data); err != nil {
		log.WithError(err).Error("failed to render vote page")
	}
}

// ensureVoterID returns the session's voter id, minting and setting a
// new one when the cookie is absent. The id is opaque and stable per
// browser session; revotes with the same id overwrite in the store.
func (h *Handler) ensureVoterID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(voterCookie); err == nil && c.Value != "" {
		return c.Value
	}
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	voterID := hex.EncodeToString(buf)
	http.SetCookie(w, &http.Cookie{Name: voterCookie, Value: voterID, Path: "/"})
	return voterID
}
