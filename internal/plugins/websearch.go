package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/praxishq/praxis/core/pkg/contracts"
)

// defaultSearchEndpoint is the DuckDuckGo instant answer API. It needs no
// key, which keeps the fallback usable out of the box.
const defaultSearchEndpoint = "https://api.duckduckgo.com/"

// Websearch is the fallback plugin: it answers anything, at modest
// confidence, by querying an instant-answer search API.
type Websearch struct {
	endpoint string
	client   *http.Client
}

// NewWebsearch creates the plugin. An empty endpoint selects the default
// instant answer API.
func NewWebsearch(endpoint string) *Websearch {
	if endpoint == "" {
		endpoint = defaultSearchEndpoint
	}
	return &Websearch{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 8 * time.Second},
	}
}

func (w *Websearch) Name() string                  { return "websearch" }
func (w *Websearch) Capabilities() []string        { return []string{"websearch"} }
func (w *Websearch) Init(contracts.Registry) error { return nil }

// instantAnswer is the subset of the instant answer payload we read.
type instantAnswer struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Heading       string `json:"Heading"`
	Answer        string `json:"Answer"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

func (w *Websearch) Handle(ctx context.Context, req *contracts.Request) (*contracts.Response, error) {
	query := req.Text
	if prior, ok := req.Metadata["prior_turn"]; ok && len(query) < 12 {
		// A bare fragment is unsearchable on its own.
		query = prior + " " + query
	}

	u := fmt.Sprintf("%s?q=%s&format=json&no_html=1&skip_disambig=1",
		w.endpoint, url.QueryEscape(query))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var ia instantAnswer
	if err := json.NewDecoder(resp.Body).Decode(&ia); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	switch {
	case ia.Answer != "":
		return &contracts.Response{Text: ia.Answer, Confidence: 0.6}, nil
	case ia.AbstractText != "":
		text := ia.AbstractText
		if ia.Heading != "" {
			text = ia.Heading + ": " + text
		}
		return &contracts.Response{
			Text:       text,
			Confidence: 0.55,
			Sources:    []string{ia.AbstractURL},
		}, nil
	case len(ia.RelatedTopics) > 0 && ia.RelatedTopics[0].Text != "":
		return &contracts.Response{
			Text:       ia.RelatedTopics[0].Text,
			Confidence: 0.35,
			Sources:    []string{ia.RelatedTopics[0].FirstURL},
		}, nil
	}
	return &contracts.Response{
		Text:       "I couldn't find anything useful for that.",
		Confidence: 0.1,
	}, nil
}
