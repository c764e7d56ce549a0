// File: cmd/run_test.go
package cmd

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig keeps a real run over the static engine in the millisecond
// range, even when elements are genuinely absent and budgets run dry.
const fastConfig = `engine:
  kind: static
  requests_per_second: 100
retry:
  max_attempts: 2
  base_delay: 10ms
  backoff_multiplier: 1.0
  max_delay: 20ms
  jitter: false
wait:
  timeout: 200ms
  poll_interval: 20ms
locate:
  per_candidate: 80ms
  total: 200ms
  probe: 10ms
`

const shopPage = `<!DOCTYPE html>
<html>
  <body>
    <header id="banner">Summer sale</header>
    <main>
      <h1 id="msg">hello from the shop</h1>
      <span id="total">Subtotal $1,299.99 (was $1,499.00)</span>
    </main>
  </body>
</html>`

// newShopServer serves a small storefront page and counts requests.
func newShopServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(shopPage))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

// runFixture returns a fixture with one passing and one failing scenario,
// both pointed at target.
func runFixture(target string) string {
	return fmt.Sprintf(`scenarios:
  - name: checkout
    target: %[1]s
    steps:
      - name: open cart
        action: navigate
      - name: read total
        action: extract_price
        value: "$"
        locators:
          - strategy: css
            value: "#total"
  - name: shipping-quote
    target: %[1]s
    steps:
      - name: open page
        action: navigate
      - name: read shipping cost
        action: extract_text
        locators:
          - strategy: id
            value: shipping
`, target)
}

// -- Run Command Tests --

func TestRunCommand(t *testing.T) {
	t.Run("should run a scenario end to end over http", func(t *testing.T) {
		resetForTest(t)
		srv, hits := newShopServer(t)
		dir := t.TempDir()
		cfgPath := writeFile(t, dir, "config.yaml", fastConfig)
		fixture := writeFile(t, dir, "scenarios.yaml", runFixture(srv.URL))
		junitPath := filepath.Join(dir, "report.xml")

		out, err := executeCommand(t, "-c", cfgPath, "run", "checkout",
			"--data", fixture, "--junit", junitPath)

		require.NoError(t, err)
		assert.Contains(t, out, "PASSED")
		assert.Contains(t, out, "checkout")
		assert.Contains(t, out, "1 passed, 0 failed, 0 aborted")
		assert.GreaterOrEqual(t, hits.Load(), int64(1))

		doc := etree.NewDocument()
		require.NoError(t, doc.ReadFromFile(junitPath))
		suites := doc.SelectElement("testsuites")
		require.NotNil(t, suites)
		assert.Equal(t, "2", suites.SelectAttrValue("tests", ""))
		assert.Equal(t, "0", suites.SelectAttrValue("failures", ""))
	})

	t.Run("should exit non zero when a scenario fails", func(t *testing.T) {
		resetForTest(t)
		srv, _ := newShopServer(t)
		dir := t.TempDir()
		cfgPath := writeFile(t, dir, "config.yaml", fastConfig)
		fixture := writeFile(t, dir, "scenarios.yaml", runFixture(srv.URL))

		out, err := executeCommand(t, "-c", cfgPath, "run", "shipping-quote", "--data", fixture)

		require.Error(t, err)
		assert.ErrorIs(t, err, errRunsFailed)
		assert.Contains(t, out, "FAILED")
		assert.Contains(t, out, "0 passed, 1 failed, 0 aborted")
	})

	t.Run("should run every scenario when none are named", func(t *testing.T) {
		resetForTest(t)
		srv, _ := newShopServer(t)
		dir := t.TempDir()
		cfgPath := writeFile(t, dir, "config.yaml", fastConfig)
		fixture := writeFile(t, dir, "scenarios.yaml", runFixture(srv.URL))

		out, err := executeCommand(t, "-c", cfgPath, "run", "--data", fixture)

		assert.ErrorIs(t, err, errRunsFailed)
		assert.Contains(t, out, "checkout")
		assert.Contains(t, out, "shipping-quote")
		assert.Contains(t, out, "1 passed, 1 failed, 0 aborted")
	})

	t.Run("should override every target with the --target flag", func(t *testing.T) {
		resetForTest(t)
		srv, hits := newShopServer(t)
		dir := t.TempDir()
		cfgPath := writeFile(t, dir, "config.yaml", fastConfig)
		// The fixture points at a dead host; only the override can pass.
		fixture := writeFile(t, dir, "scenarios.yaml", runFixture("https://unreachable.invalid"))

		out, err := executeCommand(t, "-c", cfgPath, "run", "checkout",
			"--data", fixture, "--target", srv.URL)

		require.NoError(t, err)
		assert.Contains(t, out, "1 passed, 0 failed, 0 aborted")
		assert.GreaterOrEqual(t, hits.Load(), int64(1))
	})

	t.Run("should reject a selection of unknown scenarios", func(t *testing.T) {
		resetForTest(t)
		dir := t.TempDir()
		cfgPath := writeFile(t, dir, "config.yaml", fastConfig)
		fixture := writeFile(t, dir, "scenarios.yaml", runFixture("https://shop.example.com"))

		_, err := executeCommand(t, "-c", cfgPath, "run", "refund", "--data", fixture)

		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown scenario "refund"`)
	})
}
