// Package llmx extracts structured holder/vote tuples from notice text
// through the Gemini API with a constrained response schema.
//
// The positional heuristics in package fields break down on notices that
// list several parties or security classes on one page; those documents go
// through this extractor instead. It is best-effort and independently
// retryable; nothing in the baseline pipeline depends on it.
package llmx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

const defaultModel = "gemini-2.0-flash"

// HoldingType classifies how a party relates to the securities. The fixed
// taxonomy follows the relevant-interest categories of the notice forms.
type HoldingType string

const (
	Custodian        HoldingType = "custodian"
	SubCustodian     HoldingType = "sub_custodian"
	PrimeBroker      HoldingType = "prime_broker"
	ParentEntity     HoldingType = "parent_entity"
	ControlledEntity HoldingType = "controlled_entity"
	AssociatedEntity HoldingType = "associated_entity"
	FundActive       HoldingType = "fund_active_diversified"
	FundSmallCap     HoldingType = "fund_active_smallcap"
	FundIndex        HoldingType = "fund_etf_index"
	FundHedge        HoldingType = "fund_hedge"
)

// Party is one extracted relevant-interest holder.
type Party struct {
	Name            string      `json:"party_name"`
	HoldingType     HoldingType `json:"holding_type"`
	Votes           int64       `json:"votes"`
	AssociatedParty string      `json:"associated_party"`
}

const systemInstruction = `You are a corporate finance data extraction specialist analysing the raw text of an Australian substantial holding notice (Form 603 / 604 / 605).

Return one object per entity that holds a relevant interest in the securities. For each entity:

- party_name: the full legal name as it first appears in the document, stripped of quotes and redundant brackets.
- holding_type: one of custodian, sub_custodian, prime_broker, parent_entity, controlled_entity, associated_entity, fund_active_diversified, fund_active_smallcap, fund_etf_index, fund_hedge. Custodians hold on behalf of another party and are usually the registered holder. Controlled entities are 100% owned under s608(3)(a); associated entities carry more than 20% voting power under s608(3)(b).
- votes: the total number of votes now held by the entity, aggregated across all of its entries, exactly as the document states them. No estimates.
- associated_party: the upstream related party (the parent of a controlled entity, the prime broker of a lending fund, the controlled entity behind a custodian). Empty string when there is none.`

// Extractor pulls structured party tuples from notice text.
type Extractor struct {
	client *genai.Client
	model  string
}

// Config configures an Extractor.
type Config struct {
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// New creates an Extractor. The API key is required.
func New(ctx context.Context, cfg Config) (*Extractor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llmx: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("llmx: create client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Extractor{client: client, model: model}, nil
}

// Parties extracts every relevant-interest holder from the document text.
func (e *Extractor) Parties(ctx context.Context, text string) ([]Party, error) {
	contents := []*genai.Content{
		{Role: "system", Parts: []*genai.Part{{Text: systemInstruction}}},
		{Role: "user", Parts: []*genai.Part{{Text: "––DOCUMENT START––\n" + text}}},
	}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   partySchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("llmx: generate: %w", err)
	}

	var out struct {
		Parties []Party `json:"parties"`
	}
	if err := json.Unmarshal([]byte(resp.Text()), &out); err != nil {
		return nil, fmt.Errorf("llmx: unmarshal response: %w", err)
	}
	return out.Parties, nil
}

func partySchema() *genai.Schema {
	party := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"party_name":       {Type: genai.TypeString, Description: "Full legal name, first spelling in the document."},
			"holding_type":     {Type: genai.TypeString, Description: "One of the fixed holding-type classifications."},
			"votes":            {Type: genai.TypeInteger, Description: "Total votes held, aggregated per holder."},
			"associated_party": {Type: genai.TypeString, Description: "Upstream related party, or empty string."},
		},
		Required: []string{"party_name", "holding_type", "votes", "associated_party"},
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"parties": {Type: genai.TypeArray, Items: party},
		},
		Required: []string{"parties"},
	}
}
