package supabase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// ============================================================
// PostgREST query + decode helpers
// ============================================================

// filterQuery renders an equality match as PostgREST query parameters.
// nil values become "is.null".
func filterQuery(match map[string]any) string {
	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	q := url.Values{}
	for _, k := range keys {
		v := match[k]
		if v == nil {
			q.Add(k, "is.null")
			continue
		}
		q.Add(k, "eq."+fmt.Sprint(v))
	}
	return q.Encode()
}

// orderQuery turns a sort key ("created_date", "-created_date") into a
// PostgREST order clause.
func orderQuery(sortKey string) string {
	sortKey = strings.TrimSpace(sortKey)
	if sortKey == "" {
		return ""
	}
	if strings.HasPrefix(sortKey, "-") {
		return "order=" + url.QueryEscape(strings.TrimPrefix(sortKey, "-")) + ".desc"
	}
	return "order=" + url.QueryEscape(sortKey) + ".asc"
}

// decodeList unmarshals a PostgREST array into out, treating "no data" as [].
func decodeList(body []byte, out any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("[]")
	}
	return json.Unmarshal(body, out)
}

// decodeFirst unmarshals the first row of a PostgREST array into out.
// It reports false when the array is empty.
func decodeFirst(body []byte, out any) (bool, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return false, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	return true, json.Unmarshal(rows[0], out)
}

func readBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// tableOf strips the query string from a PostgREST path.
func tableOf(path string) string {
	table, _, _ := strings.Cut(path, "?")
	return table
}
