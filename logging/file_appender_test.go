package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

func TestFileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arucocnc.log")
	app := NewFileAppender(path, 0, 1)
	logger := NewBlankLogger("session")
	logger.AddAppender(app)

	logger.Infow("work offset set", "coordinate_system", "G54")
	test.That(t, logger.Sync(), test.ShouldBeNil)
	test.That(t, app.Close(), test.ShouldBeNil)

	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	test.That(t, lines, test.ShouldHaveLength, 1)

	var entry map[string]interface{}
	test.That(t, json.Unmarshal([]byte(lines[0]), &entry), test.ShouldBeNil)
	test.That(t, entry["msg"], test.ShouldEqual, "work offset set")
	test.That(t, entry["level"], test.ShouldEqual, "INFO")
	test.That(t, entry["logger"], test.ShouldEqual, "session")
	test.That(t, entry["coordinate_system"], test.ShouldEqual, "G54")
}
