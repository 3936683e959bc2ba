package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"dbgate/internal/database"
	"dbgate/internal/version"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const defaultElasticsearchPort = 9200

// searchResponse represents the response from an Elasticsearch search query
type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Index  string          `json:"_index"`
			ID     string          `json:"_id"`
			Score  *float64        `json:"_score"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// ESConn is an Elasticsearch client bound to a default index
type ESConn struct {
	client    *elasticsearch.Client
	transport *http.Transport
	index     string
}

// Client returns the underlying Elasticsearch client
func (c *ESConn) Client() *elasticsearch.Client {
	return c.client
}

type elasticsearchBackend struct {
	database.NopTransactions[*ESConn]
}

// NewElasticsearch returns the Elasticsearch backend. A query is a search
// body; the optional first param names the index, defaulting to Database.
func NewElasticsearch() database.Backend[*ESConn] {
	return elasticsearchBackend{}
}

func (elasticsearchBackend) Name() string {
	return DriverElasticsearch
}

func (elasticsearchBackend) PingQuery() string {
	return `{"size": 0}`
}

func (elasticsearchBackend) Connect(ctx context.Context, cfg database.ConnectionConfig) (*ESConn, error) {
	tlsCfg, err := cfg.TLS.Build(cfg.Host)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = 1
	transport.TLSClientConfig = tlsCfg

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    elasticsearchAddresses(cfg, tlsCfg != nil),
		Username:     cfg.User,
		Password:     cfg.Password,
		Transport:    transport,
		DisableRetry: true,
		Header:       http.Header{"User-Agent": []string{version.UserAgent()}},
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client creation error: %w", err)
	}

	res, err := es.Info(es.Info.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("elasticsearch connect error: %w", err)
	}
	defer closeResponseBody(res.Body)

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch info error: %s", res.Status())
	}

	return &ESConn{client: es, transport: transport, index: cfg.Database}, nil
}

func (elasticsearchBackend) Execute(ctx context.Context, c *ESConn, query string, params []any) (*database.Result, error) {
	index := c.index
	if len(params) > 0 {
		s, ok := params[0].(string)
		if !ok {
			return nil, fmt.Errorf("elasticsearch index must be a string, got %T", params[0])
		}
		index = s
	}

	req := esapi.SearchRequest{
		Body:           strings.NewReader(query),
		TrackTotalHits: true,
	}
	if index != "" {
		req.Index = []string{index}
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search error: %w", err)
	}
	defer closeResponseBody(res.Body)

	if res.IsError() {
		var respBody map[string]any
		if err := json.NewDecoder(res.Body).Decode(&respBody); err != nil {
			return nil, fmt.Errorf("elasticsearch search error: %s", res.Status())
		}
		return nil, fmt.Errorf("elasticsearch search error: %s: %v", res.Status(), respBody["error"])
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("error parsing the response body: %w", err)
	}

	result := &database.Result{
		Columns:  []string{"_index", "_id", "_score", "_source"},
		Rows:     make([][]any, 0, len(sr.Hits.Hits)),
		RowCount: sr.Hits.Total.Value,
	}
	for _, hit := range sr.Hits.Hits {
		var source any
		if len(hit.Source) > 0 {
			if err := json.Unmarshal(hit.Source, &source); err != nil {
				return nil, fmt.Errorf("error parsing hit source: %w", err)
			}
		}
		var score any
		if hit.Score != nil {
			score = *hit.Score
		}
		result.Rows = append(result.Rows, []any{hit.Index, hit.ID, score, source})
	}
	return result, nil
}

func (elasticsearchBackend) Close(c *ESConn) error {
	c.transport.CloseIdleConnections()
	return nil
}

// elasticsearchAddresses returns Extra["addresses"] (comma separated) or
// the single node built from Host and Port
func elasticsearchAddresses(cfg database.ConnectionConfig, secure bool) []string {
	if addrs := cfg.Extra["addresses"]; addrs != "" {
		var out []string
		for _, a := range strings.Split(addrs, ",") {
			if a = strings.TrimSpace(a); a != "" {
				out = append(out, a)
			}
		}
		return out
	}

	port := cfg.Port
	if port == 0 {
		port = defaultElasticsearchPort
	}
	scheme := "http"
	if secure {
		scheme = "https"
	}
	return []string{scheme + "://" + net.JoinHostPort(cfg.Host, strconv.Itoa(port))}
}

// closeResponseBody drains and closes a response body
func closeResponseBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
