// Package notify implements C8, best-effort delivery of grouped
// reconciliation events to a chat webhook (Discord-compatible embed
// format). Every send is fire-and-forget: a failure is logged, never
// propagated, matching the original tool's asyncio-fire-and-forget
// Discord sends.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/omniscan/mediasync/internal/scheduler"
)

const (
	maxTitleLen       = 256
	maxDescriptionLen = 4096
	maxFieldValueLen  = 1024
	maxFooterLen      = 2048
	maxAuthorLen      = 256
	maxTotalLen       = 6000
	maxListedItems    = 10
	maxListedFolders  = 20
)

// Color values mirror Discord's decimal embed color convention.
const (
	colorBlue  = 0x3498DB
	colorGold  = 0xF1C40F
	colorGreen = 0x2ECC71
	colorRed   = 0xE74C3C
)

// Field is one name/value pair in an embed.
type Field struct {
	Name  string
	Value string
}

// Embed is the payload shape sent to the webhook.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []Field
	Footer      string
}

// Notifier is C8.
type Notifier struct {
	webhookURL string
	enabled    bool
	http       *http.Client
	log        *logrus.Entry
}

// New builds a Notifier. When enabled is false, Send is a no-op (used
// when notifications.enabled is false in config).
func New(webhookURL string, enabled bool, log *logrus.Entry) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		enabled:    enabled,
		http:       &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// FolderUpdate emits a single-folder notification, satisfying
// scheduler.Notifier.
func (n *Notifier) FolderUpdate(ctx context.Context, s scheduler.FolderSummary) {
	embed := Embed{
		Title:  "Library updated: " + rewriteFolderName(s.Folder),
		Color:  colorFor(len(s.Added), len(s.Deleted)),
		Footer: "run " + uuid.NewString(),
	}
	embed.Fields = append(embed.Fields, folderFields(s)...)
	n.Send(ctx, embed)
}

// BulkUpdate emits one notification covering several folders that became
// ready in the same tick, satisfying scheduler.Notifier.
func (n *Notifier) BulkUpdate(ctx context.Context, summaries []scheduler.FolderSummary) {
	var b strings.Builder
	shown := summaries
	truncatedCount := 0
	if len(shown) > maxListedFolders {
		truncatedCount = len(shown) - maxListedFolders
		shown = shown[:maxListedFolders]
	}
	for _, s := range shown {
		fmt.Fprintf(&b, "**%s**: +%d -%d\n", rewriteFolderName(s.Folder), len(s.Added), len(s.Deleted))
	}
	if truncatedCount > 0 {
		fmt.Fprintf(&b, "...and %d more folders\n", truncatedCount)
	}
	totalAdded, totalDeleted := 0, 0
	for _, s := range summaries {
		totalAdded += len(s.Added)
		totalDeleted += len(s.Deleted)
	}
	embed := Embed{
		Title:       fmt.Sprintf("Library update: %d folders changed", len(summaries)),
		Description: b.String(),
		Color:       colorFor(totalAdded, totalDeleted),
		Footer:      "run " + uuid.NewString(),
	}
	n.Send(ctx, embed)
}

// SweepSummary emits a sweep run's final tally.
func (n *Notifier) SweepSummary(ctx context.Context, runID string, scanned, missing, stuck, corrupt int, duration time.Duration) {
	embed := Embed{
		Title: "Sweep complete",
		Fields: []Field{
			{Name: "Scanned", Value: fmt.Sprintf("%d", scanned)},
			{Name: "Missing", Value: fmt.Sprintf("%d", missing)},
			{Name: "Stuck", Value: fmt.Sprintf("%d", stuck)},
			{Name: "Corrupt", Value: fmt.Sprintf("%d", corrupt)},
			{Name: "Duration", Value: duration.Round(time.Second).String()},
		},
		Color:  colorFor(0, missing),
		Footer: "run " + runID,
	}
	n.Send(ctx, embed)
}

// MassDeletionAborted emits the loud "sweep aborted" notification for
// the mass-deletion safety guard.
func (n *Notifier) MassDeletionAborted(ctx context.Context, runID string, missing, threshold int) {
	embed := Embed{
		Title:       "Sweep aborted: mass deletion guard tripped",
		Description: fmt.Sprintf("Detected %d missing files, over the configured threshold of %d. No refreshes were issued.", missing, threshold),
		Color:       colorRed,
		Footer:      "run " + runID,
	}
	n.Send(ctx, embed)
}

func folderFields(s scheduler.FolderSummary) []Field {
	var fields []Field
	if len(s.Added) > 0 {
		fields = append(fields, Field{Name: "Added", Value: formatFileList(s.Added)})
	}
	if len(s.Deleted) > 0 {
		fields = append(fields, Field{Name: "Deleted", Value: formatFileList(s.Deleted)})
	}
	return fields
}

// formatFileList renders up to maxListedItems file names, eliding the
// rest with a count, matching the original tool's format_file_list.
func formatFileList(files []string) string {
	shown := files
	var suffix string
	if len(shown) > maxListedItems {
		suffix = fmt.Sprintf("\n...and %d more", len(shown)-maxListedItems)
		shown = shown[:maxListedItems]
	}
	return "```\n" + strings.Join(shown, "\n") + "\n```" + suffix
}

// rewriteFolderName rewrites bare season/extras folder names to include
// their parent, matching SPEC_FULL.md §4.5 ("Season N", "Specials",
// "Extras" → "{parent} - {name}").
func rewriteFolderName(folder string) string {
	base := lastSegment(folder)
	switch {
	case base == "Specials", base == "Extras", strings.HasPrefix(base, "Season "):
		parent := lastSegment(strings.TrimSuffix(folder, "/"+base))
		if parent != "" && parent != base {
			return parent + " - " + base
		}
	}
	return base
}

func lastSegment(path string) string {
	path = strings.TrimRight(path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

func colorFor(added, deleted int) int {
	switch {
	case added > 0 && deleted > 0:
		return colorGold
	case added > 0:
		return colorGreen
	case deleted > 0:
		return colorRed
	default:
		return colorBlue
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

type wireEmbed struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Color       int         `json:"color,omitempty"`
	Fields      []wireField `json:"fields,omitempty"`
	Footer      *wireFooter `json:"footer,omitempty"`
}

type wireField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type wireFooter struct {
	Text string `json:"text"`
}

type wirePayload struct {
	Username string      `json:"username,omitempty"`
	Embeds   []wireEmbed `json:"embeds"`
}

func toWire(e Embed) wireEmbed {
	w := wireEmbed{
		Title:       truncate(e.Title, maxTitleLen),
		Description: truncate(e.Description, maxDescriptionLen),
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		w.Fields = append(w.Fields, wireField{Name: truncate(f.Name, maxTitleLen), Value: truncate(f.Value, maxFieldValueLen)})
	}
	if e.Footer != "" {
		w.Footer = &wireFooter{Text: truncate(e.Footer, maxFooterLen)}
	}
	return w
}

func embedLength(w wireEmbed) int {
	n := len(w.Title) + len(w.Description)
	if w.Footer != nil {
		n += len(w.Footer.Text)
	}
	for _, f := range w.Fields {
		n += len(f.Name) + len(f.Value)
	}
	return n
}

// Send delivers embed to the configured webhook, applying field-length
// caps and falling back to a minimal embed (title + description + first
// field) if the total still exceeds Discord's 6000-character limit.
// Every failure is logged and swallowed.
func (n *Notifier) Send(ctx context.Context, embed Embed) {
	if !n.enabled || n.webhookURL == "" {
		return
	}
	w := toWire(embed)
	if embedLength(w) > maxTotalLen {
		fallback := wireEmbed{
			Title:       w.Title,
			Description: w.Description,
			Color:       w.Color,
			Footer:      &wireFooter{Text: "truncated: embed exceeded size limit"},
		}
		if len(w.Fields) > 0 {
			fallback.Fields = []wireField{w.Fields[0]}
		}
		w = fallback
	}

	body, err := json.Marshal(wirePayload{Username: "mediasync", Embeds: []wireEmbed{w}})
	if err != nil {
		n.log.WithError(err).Warn("notify: failed to marshal embed")
		return
	}
	req, err := http.NewRequestWithContext(ctx, "POST", n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.log.WithError(err).Warn("notify: failed to build request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.http.Do(req)
	if err != nil {
		n.log.WithError(err).Warn("notify: webhook delivery failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.log.WithField("status", resp.StatusCode).Warn("notify: webhook returned non-2xx")
	}
}
