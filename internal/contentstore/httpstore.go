package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"phrasebridge/internal/domain"
)

const httpStoreDefaultTimeout = 30 * time.Second

// HTTPStoreOptions configures the content platform client.
type HTTPStoreOptions struct {
	BaseURL    string
	Dataset    string
	Token      string
	HTTPClient *http.Client
}

// HTTPStore talks to the content platform's REST API.
type HTTPStore struct {
	baseURL string
	dataset string
	token   string
	client  *http.Client
}

func NewHTTPStore(opts HTTPStoreOptions) (*HTTPStore, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("content store base url is required")
	}
	if opts.Dataset == "" {
		return nil, fmt.Errorf("content store dataset is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: httpStoreDefaultTimeout}
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		dataset: opts.Dataset,
		token:   opts.Token,
		client:  client,
	}, nil
}

func (s *HTTPStore) Get(ctx context.Context, id string) (Document, error) {
	docs, err := s.GetMany(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	doc, ok := docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return doc, nil
}

func (s *HTTPStore) GetMany(ctx context.Context, ids []string) (map[string]Document, error) {
	if len(ids) == 0 {
		return map[string]Document{}, nil
	}
	endpoint := fmt.Sprintf("%s/data/doc/%s/%s", s.baseURL, s.dataset, url.PathEscape(strings.Join(ids, ",")))
	var out struct {
		Documents []Document `json:"documents"`
	}
	if err := s.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	docs := make(map[string]Document, len(out.Documents))
	for _, doc := range out.Documents {
		if id := DocID(doc); id != "" {
			docs[id] = doc
		}
	}
	return docs, nil
}

func (s *HTTPStore) Query(ctx context.Context, query string, params map[string]any) ([]Document, error) {
	endpoint := fmt.Sprintf("%s/data/query/%s", s.baseURL, s.dataset)
	body := map[string]any{"query": query}
	if len(params) > 0 {
		qp := make(map[string]any, len(params))
		for k, v := range params {
			qp["$"+k] = v
		}
		body["params"] = qp
	}
	var out struct {
		Result []Document `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, endpoint, body, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (s *HTTPStore) Commit(ctx context.Context, tx *Transaction) error {
	if tx == nil || len(tx.Mutations) == 0 {
		return nil
	}
	endpoint := fmt.Sprintf("%s/data/mutate/%s?returnIds=true&visibility=sync", s.baseURL, s.dataset)
	muts := make([]map[string]any, 0, len(tx.Mutations))
	for _, m := range tx.Mutations {
		muts = append(muts, wireMutation(m))
	}
	var out struct {
		TransactionID string `json:"transactionId"`
	}
	return s.do(ctx, http.MethodPost, endpoint, map[string]any{"mutations": muts}, &out)
}

func (s *HTTPStore) History(ctx context.Context, id, rev string) (Document, error) {
	endpoint := fmt.Sprintf("%s/data/history/%s/documents/%s?revision=%s",
		s.baseURL, s.dataset, url.PathEscape(id), url.QueryEscape(rev))
	var out struct {
		Documents []Document `json:"documents"`
	}
	if err := s.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Documents) == 0 {
		return nil, fmt.Errorf("document %s at revision %s: %w", id, rev, domain.ErrNotFound)
	}
	return out.Documents[0], nil
}

func wireMutation(m Mutation) map[string]any {
	switch {
	case m.CreateOrReplace != nil:
		return map[string]any{"createOrReplace": m.CreateOrReplace}
	case m.CreateIfNotExists != nil:
		return map[string]any{"createIfNotExists": m.CreateIfNotExists}
	case m.Patch != nil:
		patch := map[string]any{"id": m.Patch.ID}
		if m.Patch.IfRevisionID != "" {
			patch["ifRevisionID"] = m.Patch.IfRevisionID
		}
		if len(m.Patch.Set) > 0 {
			patch["set"] = m.Patch.Set
		}
		if len(m.Patch.SetIfMissing) > 0 {
			patch["setIfMissing"] = m.Patch.SetIfMissing
		}
		if len(m.Patch.Unset) > 0 {
			patch["unset"] = m.Patch.Unset
		}
		if ins := m.Patch.Insert; ins != nil {
			insert := map[string]any{"items": ins.Items}
			if ins.After != "" {
				insert["after"] = ins.After
			}
			if ins.Before != "" {
				insert["before"] = ins.Before
			}
			patch["insert"] = insert
		}
		return map[string]any{"patch": patch}
	default:
		return map[string]any{}
	}
}

func (s *HTTPStore) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("content store request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusConflict {
		drainError(resp.Body)
		return domain.ErrRevisionMismatch
	}
	if resp.StatusCode == http.StatusNotFound {
		drainError(resp.Body)
		return domain.ErrNotFound
	}
	if resp.StatusCode >= 300 {
		msg := readError(resp.Body)
		if strings.Contains(msg, "ifRevisionID") {
			return domain.ErrRevisionMismatch
		}
		return fmt.Errorf("content store responded %d: %s", resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readError(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	return strings.TrimSpace(string(raw))
}

func drainError(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 4096))
}

var _ Store = (*HTTPStore)(nil)
