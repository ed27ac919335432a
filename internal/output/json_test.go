package output

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aqua-kernel/aqua/internal/models"
)

func TestSuccess_WrapsData(t *testing.T) {
	resp := Success(map[string]string{"k": "v"})
	require.Equal(t, "v1", resp.SchemaVersion)
	require.True(t, resp.Success)
	require.NotNil(t, resp.Data)
	require.Empty(t, resp.Error)
}

func TestError_PlainErrorHasNoEnrichedFields(t *testing.T) {
	resp := Error(errors.New("boom"))
	require.False(t, resp.Success)
	require.Equal(t, "boom", resp.Error)
	require.Empty(t, resp.ErrorCode)
	require.Nil(t, resp.ErrorContext)
	require.Empty(t, resp.SuggestedAction)
}

func TestError_KernelErrorCarriesKindContextAndHint(t *testing.T) {
	kerr := models.NewKernelError(models.KindAlreadyHeld, "lock held", map[string]string{"path": "/repo/main.go"})
	resp := Error(kerr)
	require.Equal(t, string(models.KindAlreadyHeld), resp.ErrorCode)
	require.Equal(t, "/repo/main.go", resp.ErrorContext["path"])
	require.NotEmpty(t, resp.SuggestedAction)
}

func TestEncode_CompactAndPretty(t *testing.T) {
	var compact bytes.Buffer
	require.NoError(t, Encode(&compact, false, map[string]string{"hello": "world"}))
	require.Equal(t, "{\"hello\":\"world\"}\n", compact.String())

	var pretty bytes.Buffer
	require.NoError(t, Encode(&pretty, true, map[string]string{"hello": "world"}))
	require.Contains(t, pretty.String(), "\n  \"hello\": \"world\"\n")
}

func TestEncode_EnvelopeOmitsEmptyErrorFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, false, Error(errors.New("plain"))))
	out := buf.String()
	require.Contains(t, out, `"success":false`)
	require.NotContains(t, out, "error_code")
	require.NotContains(t, out, "error_context")
	require.NotContains(t, out, "suggested_action")
}

func TestPrettyEnabled(t *testing.T) {
	t.Setenv("AQUA_PRETTY_JSON", "")
	require.False(t, PrettyEnabled())
	t.Setenv("AQUA_PRETTY_JSON", "1")
	require.True(t, PrettyEnabled())
	t.Setenv("AQUA_PRETTY_JSON", "true")
	require.True(t, PrettyEnabled())
}
