// Package protocol implements the request handlers an application serves to
// editor processes: self-identification, registry dumps, source retrieval,
// hot updates and a script shell.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/dyluth/blur/internal/journal"
	"github.com/dyluth/blur/internal/statement"
	"github.com/dyluth/blur/pkg/blur"
)

// Request keywords, in registration order.
const (
	KeywordApp            = "APP"
	KeywordBlurFunctions  = "BLUR_FUNCTIONS"
	KeywordFramework      = "PYTHON_FRAMEWORK"
	KeywordClassFramework = "CLASS_FRAMEWORK"
	KeywordClassMembers   = "CLASS_MEMBERS:"
	KeywordShell          = "SHELL:"
	KeywordCode           = "CODE:"
	KeywordUpdate         = "UPDATE|"
	KeywordHistory        = "HISTORY"
)

const (
	classSuffix         = ":CLASS"
	defaultHistoryLimit = 20
)

// Journal persists update outcomes for the HISTORY request.
type Journal interface {
	Record(e journal.Entry) (journal.Entry, error)
	List(limit int) ([]journal.Entry, error)
}

// UpdateReply is the JSON answer to an UPDATE request.
type UpdateReply struct {
	ID        string `json:"id"`
	OK        bool   `json:"ok"`
	Kind      string `json:"kind,omitempty"`
	Instances int    `json:"instances"`
	Failed    int    `json:"failed"`
	Relinked  int    `json:"relinked"`
	Error     string `json:"error,omitempty"`
}

// Handlers serves protocol requests against a network.
type Handlers struct {
	net     *blur.Network
	journal Journal
}

// New creates the handlers. journal may be nil, in which case updates are
// not recorded and HISTORY answers with an empty list.
func New(net *blur.Network, j Journal) *Handlers {
	return &Handlers{net: net, journal: j}
}

// Register adds every handler to reg.
func (h *Handlers) Register(reg *statement.Registry) {
	reg.Register(KeywordApp, h.app)
	reg.Register(KeywordBlurFunctions, h.blurFunctions)
	reg.Register(KeywordFramework, h.framework)
	reg.Register(KeywordClassFramework, h.classFramework)
	reg.Register(KeywordClassMembers, h.classMembers)
	reg.Register(KeywordShell, h.shell)
	reg.Register(KeywordCode, h.code)
	reg.Register(KeywordUpdate, h.update)
	reg.Register(KeywordHistory, h.history)
}

// NewRegistry returns a statement registry with every handler registered.
func NewRegistry(net *blur.Network, j Journal) *statement.Registry {
	reg := statement.NewRegistry()
	New(net, j).Register(reg)
	return reg
}

func (h *Handlers) app(ctx context.Context, request string) (string, error) {
	if request != KeywordApp {
		return "", nil
	}
	return h.net.Environment(), nil
}

func (h *Handlers) blurFunctions(ctx context.Context, request string) (string, error) {
	if request != KeywordBlurFunctions {
		return "", nil
	}
	return encode(h.net.DescribeFunctions())
}

func (h *Handlers) framework(ctx context.Context, request string) (string, error) {
	if request != KeywordFramework {
		return "", nil
	}
	return encode(h.net.DescribeFramework())
}

func (h *Handlers) classFramework(ctx context.Context, request string) (string, error) {
	if request != KeywordClassFramework {
		return "", nil
	}
	return encode(h.net.DescribeClasses())
}

func (h *Handlers) classMembers(ctx context.Context, request string) (string, error) {
	name, ok := strings.CutPrefix(request, KeywordClassMembers)
	if !ok {
		return "", nil
	}
	info, err := h.net.DescribeClassMembers(name)
	if err != nil {
		return "", err
	}
	return encode(info)
}

// shell evaluates everything after the keyword. Failures are answered with
// the error text so the editor can show them.
func (h *Handlers) shell(ctx context.Context, request string) (string, error) {
	stmt, ok := strings.CutPrefix(request, KeywordShell)
	if !ok {
		return "", nil
	}
	value, ok, err := h.net.Eval(ctx, stmt)
	if err != nil {
		return err.Error(), nil
	}
	if !ok {
		return "", nil
	}
	return encode(value)
}

func (h *Handlers) code(ctx context.Context, request string) (string, error) {
	id, ok := strings.CutPrefix(request, KeywordCode)
	if !ok {
		return "", nil
	}
	if path, isMethod := strings.CutSuffix(id, classSuffix); isMethod {
		return h.net.FetchMethodSource(path)
	}
	return h.net.FetchSource(id)
}

// update applies "UPDATE|<id>|<source>". The source is everything after the
// second separator and may itself contain '|'.
func (h *Handlers) update(ctx context.Context, request string) (string, error) {
	if !strings.HasPrefix(request, KeywordUpdate) {
		return "", nil
	}
	parts := strings.SplitN(request, "|", 3)
	if len(parts) < 3 {
		return "", fmt.Errorf("malformed update request: expected UPDATE|<id>|<source>")
	}
	id, source := parts[1], parts[2]

	reply := UpdateReply{ID: id}
	result, err := h.net.ApplyUpdate(ctx, id, source)
	if err != nil {
		log.Printf("[Protocol] Update of %s failed: %v", id, err)
		reply.Error = err.Error()
	} else {
		reply.OK = true
		reply.Kind = string(result.Kind)
		reply.Instances = result.Instances
		reply.Failed = result.Failed
		reply.Relinked = result.Relinked
	}

	h.record(id, source, reply)
	return encode(reply)
}

func (h *Handlers) record(target, source string, reply UpdateReply) {
	if h.journal == nil {
		return
	}
	_, err := h.journal.Record(journal.Entry{
		App:       h.net.Environment(),
		Target:    target,
		Kind:      reply.Kind,
		OK:        reply.OK,
		Error:     reply.Error,
		Instances: reply.Instances,
		Relinked:  reply.Relinked,
		Source:    source,
	})
	if err != nil {
		log.Printf("[Protocol] Failed to journal update of %s: %v", target, err)
	}
}

// history answers "HISTORY" or "HISTORY:<limit>".
func (h *Handlers) history(ctx context.Context, request string) (string, error) {
	rest, ok := strings.CutPrefix(request, KeywordHistory)
	if !ok {
		return "", nil
	}

	limit := defaultHistoryLimit
	if rest != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(rest, ":"))
		if err != nil || !strings.HasPrefix(rest, ":") {
			return "", fmt.Errorf("malformed history request %q", request)
		}
		limit = n
	}

	if h.journal == nil {
		return encode([]journal.Entry{})
	}
	entries, err := h.journal.List(limit)
	if err != nil {
		return "", fmt.Errorf("failed to list journal: %w", err)
	}
	return encode(entries)
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode reply: %w", err)
	}
	return string(data), nil
}
