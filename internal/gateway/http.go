package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBytes = 1 << 20

// jsonCaller performs provider JSON calls and classifies their failures.
type jsonCaller struct {
	gateway string
	client  *http.Client
}

func newJSONCaller(gateway string, timeout time.Duration) jsonCaller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return jsonCaller{gateway: gateway, client: &http.Client{Timeout: timeout}}
}

// call sends body (JSON encoded unless it is already []byte) and decodes the
// response into out. The raw response body is returned on success.
func (c jsonCaller) call(ctx context.Context, op, method, url string, headers map[string]string, body any, out any) (json.RawMessage, error) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, newError(KindMalformed, c.gateway, op, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, newError(KindMalformed, c.gateway, op, err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, newError(KindUnavailable, c.gateway, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, newError(KindUnavailable, c.gateway, op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return nil, newError(kindForStatus(resp.StatusCode), c.gateway, op,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 256)))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, newError(KindMalformed, c.gateway, op, fmt.Errorf("decode response: %w", err))
		}
	}
	return raw, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// canonicalJSON re-encodes a JSON object with sorted keys and numbers kept
// exactly as received.
func canonicalJSON(payload []byte, drop ...string) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	for _, k := range drop {
		delete(obj, k)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
