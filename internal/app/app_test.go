package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idanyas/speedtui/internal/config"
	"github.com/idanyas/speedtui/internal/directory"
)

const downloadSize = 64 << 10

// speedServer serves a one-entry server list pointing back at itself plus
// the latency, download and upload endpoints.
func speedServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/servers.xml":
			u, _ := url.Parse(srv.URL)
			fmt.Fprintf(w, `<settings><servers>
<server url="%s/speedtest/upload.php" lat="52.52" lon="13.40" name="Berlin" country="Germany" sponsor="Far ISP" id="1" host="%s" />
<server url="%s/speedtest/upload.php" lat="50.85" lon="4.35" name="Brussels" country="Belgium" sponsor="Near ISP" id="2" host="%s" />
</servers></settings>`, srv.URL, u.Host, srv.URL, u.Host)
		case "/":
			w.WriteHeader(http.StatusOK)
		case "/speedtest/random2000x2000.jpg":
			w.Write(make([]byte, downloadSize))
		case "/speedtest/upload.php":
			io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testOptions(srv *httptest.Server) Options {
	cfg := config.Default()
	cfg.Directory.URLs = []string{srv.URL + "/missing.xml", srv.URL + "/servers.xml"}
	cfg.Probe.LatencyAttempts = 3
	cfg.Probe.LatencyDelay = time.Millisecond
	cfg.Probe.UploadBytes = 4096
	cfg.Display.Tick = time.Millisecond

	l := logrus.New()
	l.SetOutput(io.Discard)

	return Options{
		Config:  cfg,
		Client:  &http.Client{Timeout: 10 * time.Second},
		Logger:  l,
		Version: "test",
		Once:    true,
	}
}

func TestRunOnce(t *testing.T) {
	srv := speedServer(t)
	opts := testOptions(srv)
	var out bytes.Buffer
	opts.Out = &out

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, srv.URL, result.Target.URL)
	assert.Equal(t, "Far ISP", result.Server.Sponsor)

	res := result.Results
	assert.Equal(t, 3, res.Ping.Samples)
	assert.LessOrEqual(t, res.Ping.Min, res.Ping.Avg)
	assert.LessOrEqual(t, res.Ping.Avg, res.Ping.Max)
	assert.Equal(t, int64(downloadSize*8), res.Download.Bits)
	assert.Equal(t, int64(4096*8), res.Upload.Bits)
	assert.Greater(t, res.Download.BitsPerSecond, 0.0)

	text := out.String()
	assert.Contains(t, text, "Server: Far ISP")
	assert.Contains(t, text, "Latency:")
	assert.Contains(t, text, "Download:")
	assert.Contains(t, text, "Upload:")
}

func TestRunOnceJSONIsQuiet(t *testing.T) {
	srv := speedServer(t)
	opts := testOptions(srv)
	opts.JSON = true
	opts.Config.Directory.ServerIndex = 1
	var out bytes.Buffer
	opts.Out = &out

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "Near ISP", result.Server.Sponsor)
	assert.Empty(t, out.String())
}

func TestRunFailingProbesStillFinish(t *testing.T) {
	srv := speedServer(t)
	opts := testOptions(srv)
	opts.Out = io.Discard
	opts.Config.Probe.LatencyPath = "/nope"
	opts.Config.Probe.DownloadPath = "/nope"
	opts.Config.Probe.UploadPath = "/nope"

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Zero(t, result.Results.Ping)
	assert.Zero(t, result.Results.Download)
	assert.Zero(t, result.Results.Upload)
}

func TestRunNoServers(t *testing.T) {
	srv := speedServer(t)
	opts := testOptions(srv)
	opts.Config.Directory.URLs = []string{srv.URL + "/missing.xml"}

	_, err := Run(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, directory.ErrNoServers))
}

func TestRunServerIndexOutOfRange(t *testing.T) {
	srv := speedServer(t)
	opts := testOptions(srv)
	opts.Config.Directory.ServerIndex = 5

	_, err := Run(context.Background(), opts)
	require.Error(t, err)
}

func TestServersNearest(t *testing.T) {
	srv := speedServer(t)
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"location":{"latitude":50.85,"longitude":4.35}}`)
	}))
	defer geo.Close()

	opts := testOptions(srv)
	opts.Config.Directory.Nearest = true
	opts.GeoIPURL = geo.URL

	servers, err := Servers(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "Near ISP", servers[0].Sponsor)
	assert.Less(t, servers[0].Distance, servers[1].Distance)
}
