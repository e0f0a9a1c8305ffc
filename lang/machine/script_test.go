package machine_test

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/mna/calamus/internal/filetest"
	"github.com/mna/calamus/lang/machine"
	"github.com/stretchr/testify/require"
)

var testUpdateScriptTests = flag.Bool("test.update-script-tests", false, "If set, updates the expected script test results.")

// TestScripts executes the source files in testdata/scripts and compares
// the standard output and any interpretation error against the golden
// files in testdata/scripts/results. Each script runs twice, once with
// the collector in stress mode, and must behave identically.
func TestScripts(t *testing.T) {
	dir := filepath.Join("testdata", "scripts")
	resultDir := filepath.Join(dir, "results")

	for _, fi := range filetest.SourceFiles(t, dir, ".cal") {
		fi := fi
		t.Run(fi.Name(), func(t *testing.T) {
			b, err := os.ReadFile(filepath.Join(dir, fi.Name()))
			require.NoError(t, err)

			for _, cfg := range []machine.Config{{}, {GCStress: true}} {
				var out bytes.Buffer
				m := machine.New(cfg)
				m.Stdout = &out

				var errOut string
				if err := m.Interpret(string(b)); err != nil {
					errOut = err.Error() + "\n"
				}
				filetest.DiffOutput(t, fi, out.String(), resultDir, testUpdateScriptTests)
				filetest.DiffErrors(t, fi, errOut, resultDir, testUpdateScriptTests)
			}
		})
	}
}
