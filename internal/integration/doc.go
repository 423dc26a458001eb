// Package integration provides end-to-end tests of the server workflow and
// a harness for tests that require an actual container engine.
//
// Workflow tests run the app, pool and session layers together on mocks
// and always run. Engine tests are skipped unless the
// FORAGE_LAB_INTEGRATION_TESTS environment variable is set. They require:
//   - Docker or Podman on PATH
//   - A local Python runtime with jupyterlab installed
//   - Network access to pull the notebook image
//
// # Test Harness
//
//	func TestMyIntegration(t *testing.T) {
//	    h := integration.NewHarness(t) // Skips if env var not set
//
//	    dir := h.CreateWorkspace("analysis")
//	    info := h.StartServer(dir)
//	    h.WaitForServer(info.URL, 5*time.Minute)
//
//	    // Cleanup is automatic via t.Cleanup
//	}
//
// # Running Integration Tests
//
//	FORAGE_LAB_INTEGRATION_TESTS=1 go test -v ./internal/integration/...
package integration
