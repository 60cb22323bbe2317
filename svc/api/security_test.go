package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestInjectionPayloadsStoredVerbatim(t *testing.T) {
	env := newTestEnv(t, nil)
	payloads := []string{
		"'; DROP TABLE snippets; --",
		"' OR '1'='1",
		"1' UNION SELECT * FROM snippets--",
		"<img src=x onerror=alert(1)>",
		"$(rm -rf /)",
		"\x00\x01 binary-ish",
	}
	for i, payload := range payloads {
		t.Run(fmt.Sprintf("payload%d", i), func(t *testing.T) {
			body, _ := json.Marshal(map[string]interface{}{
				"files": []map[string]string{{"name": "x.sql", "content": payload}},
			})
			rec := env.share(t, string(body), fmt.Sprintf("192.0.2.%d", i))
			resp := decodeCreate(t, rec)
			rec = env.do(httptest.NewRequest(http.MethodGet, "/api/snippets/"+resp.ID, nil))
			var got SnippetResp
			json.NewDecoder(rec.Body).Decode(&got)
			if len(got.Files) != 1 || got.Files[0].Content != payload {
				t.Errorf("content changed: %+v", got.Files)
			}
		})
	}
	if rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil)); rec.Code != http.StatusOK {
		t.Errorf("health after payloads = %d", rec.Code)
	}
}

func TestOversizedBodies(t *testing.T) {
	env := newTestEnv(t, nil)
	env.cfg.MaxSnippetSize = 1024

	big := strings.Repeat("a", 2048)
	body, _ := json.Marshal(map[string]interface{}{
		"files": []map[string]string{{"name": "big.txt", "content": big}},
	})
	if rec := env.share(t, string(body), ""); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized snippet status = %d, want 413", rec.Code)
	}

	huge := `{"files":[{"name":"a","content":"` + strings.Repeat("b", 200*1024) + `"}]}`
	if rec := env.share(t, huge, ""); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body status = %d, want 413", rec.Code)
	}

	files := make([]map[string]string, env.cfg.MaxFiles+1)
	for i := range files {
		files[i] = map[string]string{"name": fmt.Sprintf("f%d.txt", i), "content": "x"}
	}
	body, _ = json.Marshal(map[string]interface{}{"files": files})
	if rec := env.share(t, string(body), ""); rec.Code != http.StatusBadRequest {
		t.Errorf("too many files status = %d, want 400", rec.Code)
	}
}

func TestConcurrentShareAndRead(t *testing.T) {
	env := newTestEnv(t, nil)
	seed := decodeCreate(t, env.share(t, `{"files":[{"name":"seed.txt","content":"seed"}]}`, "10.1.0.1"))

	var wg sync.WaitGroup
	ids := make(chan string, 40)
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			rec := env.share(t, fmt.Sprintf(`{"files":[{"name":"f.txt","content":"n%d"}]}`, i), fmt.Sprintf("10.2.0.%d", i))
			if rec.Code != http.StatusCreated {
				t.Errorf("share %d: status %d", i, rec.Code)
				return
			}
			var resp CreateResp
			json.NewDecoder(rec.Body).Decode(&resp)
			ids <- resp.ID
		}(i)
		go func() {
			defer wg.Done()
			rec := env.do(httptest.NewRequest(http.MethodGet, "/api/snippets/"+seed.ID, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("read status %d", rec.Code)
			}
		}()
	}
	wg.Wait()
	close(ids)
	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
