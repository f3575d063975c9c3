package sandbox

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibaba/rock-go/actions"
)

func TestExecuteScript(t *testing.T) {
	t.Run("UploadsRunsAndCleansUp", func(t *testing.T) {
		api := detachedAPI(64, 0, 0)
		api.readFn = func(req *actions.ReadFileRequest) (*actions.FileContent, error) {
			return &actions.FileContent{Content: "script ran\n"}, nil
		}
		sb, _ := newTestSandbox(t, api)
		mustStart(t, sb)

		obs, err := sb.Process().ExecuteScript(context.Background(), "#!/bin/bash\necho script ran\n",
			WithScriptName("job.sh"))
		require.NoError(t, err)
		require.True(t, obs.Success())
		assert.Equal(t, "script ran\n", obs.Output)

		require.Len(t, api.writeCalls, 1)
		assert.Equal(t, "/tmp/job.sh", api.writeCalls[0].Path)
		assert.Contains(t, api.writeCalls[0].Content, "echo script ran")

		// The detached run targets the uploaded script.
		cmds := api.runCommands()
		require.NotEmpty(t, cmds)
		assert.Contains(t, cmds[0], "bash /tmp/job.sh")

		require.Len(t, api.executeCalls, 1)
		assert.Equal(t, []string{"rm", "-f", "/tmp/job.sh"}, api.executeCalls[0].Command)
	})

	t.Run("GeneratesScriptName", func(t *testing.T) {
		api := detachedAPI(64, 0, 0)
		sb, _ := newTestSandbox(t, api)
		mustStart(t, sb)

		_, err := sb.Process().ExecuteScript(context.Background(), "echo hi")
		require.NoError(t, err)

		require.Len(t, api.writeCalls, 1)
		path := api.writeCalls[0].Path
		assert.True(t, strings.HasPrefix(path, "/tmp/script_"))
		assert.True(t, strings.HasSuffix(path, ".sh"))
	})

	t.Run("SkipsCleanupWhenAsked", func(t *testing.T) {
		api := detachedAPI(64, 0, 0)
		sb, _ := newTestSandbox(t, api)
		mustStart(t, sb)

		_, err := sb.Process().ExecuteScript(context.Background(), "echo hi", WithoutScriptCleanup())
		require.NoError(t, err)
		assert.Empty(t, api.executeCalls)
	})

	t.Run("UploadErrorBecomesFailureObservation", func(t *testing.T) {
		api := &MockAPI{}
		api.writeFn = func(*actions.WriteFileRequest) (*actions.OpResult, error) {
			return nil, errors.New("disk full")
		}
		sb, _ := newTestSandbox(t, api)
		mustStart(t, sb)

		obs, err := sb.Process().ExecuteScript(context.Background(), "echo hi")
		require.NoError(t, err)
		assert.Equal(t, 1, obs.ExitCode)
		assert.Equal(t, "script upload failed", obs.FailureReason)
		assert.Empty(t, api.runCommands())
	})

	t.Run("UploadRejectionBecomesFailureObservation", func(t *testing.T) {
		api := &MockAPI{}
		api.writeFn = func(*actions.WriteFileRequest) (*actions.OpResult, error) {
			return &actions.OpResult{Success: false, Message: "path not writable"}, nil
		}
		sb, _ := newTestSandbox(t, api)
		mustStart(t, sb)

		obs, err := sb.Process().ExecuteScript(context.Background(), "echo hi")
		require.NoError(t, err)
		assert.Equal(t, 1, obs.ExitCode)
		assert.Contains(t, obs.Output, "path not writable")
	})
}

func TestPackDir(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "top.txt"), []byte("top content"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "deep.txt"), []byte("deep content"), 0644))

	data, err := packDir(src)
	require.NoError(t, err)

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gz.Close()

	entries := map[string]string{}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if hdr.Typeflag == tar.TypeDir {
			entries[hdr.Name] = ""
			continue
		}
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[hdr.Name] = string(content)
	}

	assert.Equal(t, "top content", entries["top.txt"])
	assert.Equal(t, "deep content", entries[filepath.Join("nested", "deep.txt")])
	_, hasDir := entries["nested"]
	assert.True(t, hasDir)
	// Entries are relative, never rooted at the source path.
	for name := range entries {
		assert.False(t, filepath.IsAbs(name))
	}
}

func TestUploadDir(t *testing.T) {
	newUploadAPI := func() *MockAPI {
		api := detachedAPI(99, 0, 0)
		inner := api.runFn
		api.runFn = func(action *actions.SessionAction) (*actions.Observation, error) {
			if strings.HasPrefix(action.Command, "command -v tar") {
				return &actions.Observation{ExitCode: 0}, nil
			}
			return inner(action)
		}
		api.readFn = func(*actions.ReadFileRequest) (*actions.FileContent, error) {
			return &actions.FileContent{Content: ""}, nil
		}
		return api
	}

	t.Run("PacksUploadsAndExtracts", func(t *testing.T) {
		src := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(src, "app.py"), []byte("print('hi')"), 0644))

		api := newUploadAPI()
		sb, _ := newTestSandbox(t, api)
		mustStart(t, sb)

		obs, err := sb.Process().UploadDir(context.Background(), src, "/opt/app")
		require.NoError(t, err)
		require.True(t, obs.Success())
		assert.Contains(t, obs.Output, "/opt/app")

		require.Len(t, api.uploadCalls, 1)
		assert.Contains(t, api.uploadCalls[0][0], "rock_upload_")
		assert.Contains(t, api.uploadCalls[0][1], "/tmp/rock_upload_")

		// Extraction recreates the target before unpacking.
		var sawExtract bool
		for _, cmd := range api.runCommands() {
			if strings.Contains(cmd, "tar -xzf") {
				sawExtract = true
				assert.Contains(t, cmd, "mkdir -p")
				assert.Contains(t, cmd, "/opt/app")
			}
		}
		assert.True(t, sawExtract)

		// Remote tarball removed afterwards.
		require.Len(t, api.executeCalls, 1)
		assert.Equal(t, "rm", api.executeCalls[0].Command[0])
	})

	t.Run("RejectsMissingSource", func(t *testing.T) {
		api := newUploadAPI()
		sb, _ := newTestSandbox(t, api)
		mustStart(t, sb)

		obs, err := sb.Process().UploadDir(context.Background(), "/does/not/exist", "/opt/app")
		require.NoError(t, err)
		assert.Equal(t, 1, obs.ExitCode)
		assert.Contains(t, obs.FailureReason, "not found")
		assert.Empty(t, api.uploadCalls)
	})

	t.Run("RejectsFileAsSource", func(t *testing.T) {
		src := t.TempDir()
		file := filepath.Join(src, "single.txt")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

		api := newUploadAPI()
		sb, _ := newTestSandbox(t, api)
		mustStart(t, sb)

		obs, err := sb.Process().UploadDir(context.Background(), file, "/opt/app")
		require.NoError(t, err)
		assert.Equal(t, 1, obs.ExitCode)
		assert.Contains(t, obs.FailureReason, "must be a directory")
	})

	t.Run("RejectsRelativeTarget", func(t *testing.T) {
		api := newUploadAPI()
		sb, _ := newTestSandbox(t, api)
		mustStart(t, sb)

		obs, err := sb.Process().UploadDir(context.Background(), t.TempDir(), "relative/path")
		require.NoError(t, err)
		assert.Equal(t, 1, obs.ExitCode)
		assert.Contains(t, obs.FailureReason, "absolute")
	})

	t.Run("MissingTarCommandFails", func(t *testing.T) {
		api := &MockAPI{}
		api.runFn = func(action *actions.SessionAction) (*actions.Observation, error) {
			if strings.HasPrefix(action.Command, "command -v tar") {
				return &actions.Observation{ExitCode: 1}, nil
			}
			return &actions.Observation{ExitCode: 0}, nil
		}
		sb, _ := newTestSandbox(t, api)
		mustStart(t, sb)

		obs, err := sb.Process().UploadDir(context.Background(), t.TempDir(), "/opt/app")
		require.NoError(t, err)
		assert.Equal(t, 1, obs.ExitCode)
		assert.Contains(t, obs.FailureReason, "no tar command")
		assert.Empty(t, api.uploadCalls)
	})

	t.Run("RejectedUploadFails", func(t *testing.T) {
		api := newUploadAPI()
		api.uploadFn = func(localPath, targetPath string) (*actions.OpResult, error) {
			return &actions.OpResult{Success: false, Message: "too large"}, nil
		}
		sb, _ := newTestSandbox(t, api)
		mustStart(t, sb)

		obs, err := sb.Process().UploadDir(context.Background(), t.TempDir(), "/opt/app")
		require.NoError(t, err)
		assert.Equal(t, 1, obs.ExitCode)
		assert.Contains(t, obs.FailureReason, "too large")
	})
}
