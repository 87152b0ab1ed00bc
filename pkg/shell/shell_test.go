package shell

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQuoteSplit(t *testing.T) {
	s := `
python "-c" 'import time
print("time", time.time())'
`
	require.Equal(t, []string{"python", "-c", "import time\nprint(\"time\", time.time())"}, QuoteSplit(s))

	s = `ffmpeg -i "video=FaceTime HD Camera" -i "DeckLink SDI (2)"`
	require.Equal(t, []string{"ffmpeg", "-i", `video=FaceTime HD Camera`, "-i", "DeckLink SDI (2)"}, QuoteSplit(s))

	require.Nil(t, QuoteSplit(`ffmpeg "unclosed`))
}

func TestCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs sh")
	}

	cmd := NewCommand(context.Background(), `sh -c "exit 3"`)
	err := cmd.Run()
	require.Error(t, err)
	require.Equal(t, err, cmd.Wait())
	<-cmd.Done()

	cmd = NewCommand(context.Background(), "sleep 10")
	require.NoError(t, cmd.Start())
	require.NoError(t, cmd.Close())

	select {
	case <-cmd.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process not killed")
	}
	require.Error(t, cmd.Wait())
}

func TestCommandNotFound(t *testing.T) {
	cmd := NewCommand(context.Background(), "/nonexistent/ffmpeg -version")
	require.Error(t, cmd.Start())

	cmd = NewCommand(context.Background(), "")
	require.Error(t, cmd.Start())
}
