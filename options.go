package chatkit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opd-ai/chatkit/history"
	"github.com/opd-ai/chatkit/partner"
	"github.com/opd-ai/chatkit/status"
)

// Options contains configuration options for creating a Session.
type Options struct {
	// SelfID identifies the local user; messages it authors get the
	// delivery status pipeline.
	SelfID string

	// PageSize is how many messages the pagination window reveals per
	// page.
	PageSize int

	// LoadLatency is the simulated fetch delay for loading older
	// history. Zero disables the delay.
	LoadLatency time.Duration

	// Status holds the delivery pipeline delays.
	Status status.Config

	// PartnerEnabled turns on the canned auto-reply behavior for plain
	// text sends. Disable when a real backend delivers peer messages.
	PartnerEnabled bool

	// PartnerReplies overrides the canned response set.
	PartnerReplies []string

	// TypingDelay and ReplyDelay time the canned partner's typing
	// indicator and reply.
	TypingDelay time.Duration
	ReplyDelay  time.Duration

	// HistoryPath, when set, opens a durable history store at that path
	// and mirrors every mutation to it. Empty keeps history in memory
	// only.
	HistoryPath string
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		SelfID:         "self",
		PageSize:       history.DefaultPageSize,
		LoadLatency:    history.DefaultLoadLatency,
		Status:         status.DefaultConfig(),
		PartnerEnabled: true,
		TypingDelay:    partner.DefaultTypingDelay,
		ReplyDelay:     partner.DefaultReplyDelay,
	}
}

// optionsFile is the YAML shape of an options file. Durations are
// strings in time.ParseDuration syntax ("500ms", "2s").
type optionsFile struct {
	SelfID         string   `yaml:"self_id"`
	PageSize       int      `yaml:"page_size"`
	LoadLatency    string   `yaml:"load_latency"`
	SentDelay      string   `yaml:"sent_delay"`
	DeliverDelay   string   `yaml:"deliver_delay"`
	ReadDelay      string   `yaml:"read_delay"`
	PartnerEnabled *bool    `yaml:"partner_enabled"`
	PartnerReplies []string `yaml:"partner_replies"`
	TypingDelay    string   `yaml:"typing_delay"`
	ReplyDelay     string   `yaml:"reply_delay"`
	HistoryPath    string   `yaml:"history_path"`
}

// LoadOptions reads a YAML options file, filling unset fields with
// defaults.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading options file: %w", err)
	}

	var f optionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing options file: %w", err)
	}

	opts := NewOptions()
	if f.SelfID != "" {
		opts.SelfID = f.SelfID
	}
	if f.PageSize > 0 {
		opts.PageSize = f.PageSize
	}
	if f.PartnerEnabled != nil {
		opts.PartnerEnabled = *f.PartnerEnabled
	}
	if len(f.PartnerReplies) > 0 {
		opts.PartnerReplies = f.PartnerReplies
	}
	opts.HistoryPath = f.HistoryPath

	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{f.LoadLatency, &opts.LoadLatency},
		{f.SentDelay, &opts.Status.SentDelay},
		{f.DeliverDelay, &opts.Status.DeliverDelay},
		{f.ReadDelay, &opts.Status.ReadDelay},
		{f.TypingDelay, &opts.TypingDelay},
		{f.ReplyDelay, &opts.ReplyDelay},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("parsing options file: %w", err)
		}
		*d.dst = v
	}

	return opts, nil
}
