package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idanyas/speedtui/internal/data"
)

const sampleList = `<?xml version="1.0" encoding="UTF-8"?>
<settings>
<servers>
<server url="http://speed.one.example:8080/speedtest/upload.php" lat="52.5200" lon="13.4050" name="Berlin" country="Germany" cc="DE" sponsor="One" id="101" host="speed.one.example:8080" />
<server url="http://speed.two.example/speedtest/upload.php" lat="48.8566" lon="2.3522" name="Paris" country="France" cc="FR" sponsor="Two" id="102" />
<server lat="0" lon="0" name="Broken" id="103" />
</servers>
</settings>`

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestParse(t *testing.T) {
	servers, err := Parse(strings.NewReader(sampleList))
	require.NoError(t, err)
	require.Len(t, servers, 2)

	assert.Equal(t, 101, servers[0].ID)
	assert.Equal(t, "speed.one.example:8080", servers[0].Host)
	assert.Equal(t, "One", servers[0].Sponsor)
	assert.Equal(t, "Germany", servers[0].Country)
	assert.InDelta(t, 52.52, servers[0].Lat, 1e-9)

	assert.Equal(t, "", servers[1].Host)
	assert.Equal(t, "http://speed.two.example/speedtest/upload.php", servers[1].URL)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse(strings.NewReader("<settings><servers>"))
	require.Error(t, err)
}

func TestFetchFallsBackInOrder(t *testing.T) {
	var hits atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "<settings><servers></servers></settings>")
	}))
	defer empty.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, sampleList)
	}))
	defer good.Close()

	d := New(http.DefaultClient, []string{bad.URL, empty.URL, good.URL, bad.URL}, testLogger())
	servers, err := d.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, servers, 2)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchAllFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	d := New(http.DefaultClient, []string{bad.URL}, testLogger())
	_, err := d.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoServers))
	assert.Contains(t, err.Error(), "unexpected status 500")

	d = New(http.DefaultClient, nil, testLogger())
	_, err = d.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoServers)
}

func TestSelect(t *testing.T) {
	servers := []data.Server{{ID: 1}, {ID: 2}}

	s, err := Select(servers, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, s.ID)

	_, err = Select(servers, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	_, err = Select(nil, 0)
	assert.ErrorIs(t, err, ErrNoServers)
}

func TestTargetFor(t *testing.T) {
	target, err := TargetFor(data.Server{Host: "speed.one.example:8080"})
	require.NoError(t, err)
	assert.Equal(t, data.Target{Host: "speed.one.example:8080", URL: "http://speed.one.example:8080"}, target)

	target, err = TargetFor(data.Server{URL: "https://speed.two.example/speedtest/upload.php"})
	require.NoError(t, err)
	assert.Equal(t, data.Target{Host: "speed.two.example", URL: "https://speed.two.example"}, target)

	_, err = TargetFor(data.Server{ID: 7})
	require.Error(t, err)
}

func TestSortByDistance(t *testing.T) {
	servers := []data.Server{
		{ID: 1, Name: "Berlin", Lat: 52.52, Lon: 13.405},
		{ID: 2, Name: "Paris", Lat: 48.8566, Lon: 2.3522},
		{ID: 3, Name: "Warsaw", Lat: 52.2297, Lon: 21.0122},
	}

	// reference point in Brussels
	SortByDistance(servers, 50.8503, 4.3517)

	assert.Equal(t, "Paris", servers[0].Name)
	assert.Equal(t, "Berlin", servers[1].Name)
	assert.Equal(t, "Warsaw", servers[2].Name)
	assert.InDelta(t, 264, servers[0].Distance, 10)
}

func TestHaversine(t *testing.T) {
	assert.Zero(t, haversine(10, 10, 10, 10))
	// one degree of latitude is ~111 km
	assert.InDelta(t, 111.19, haversine(0, 0, 1, 0), 0.1)
}

func TestLocate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"location":{"latitude":50.85,"longitude":4.35}}`)
	}))
	defer srv.Close()

	lat, lon, err := Locate(context.Background(), http.DefaultClient, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 50.85, lat)
	assert.Equal(t, 4.35, lon)
}

func TestLocateZeroCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"location":{"latitude":0,"longitude":0}}`)
	}))
	defer srv.Close()

	_, _, err := Locate(context.Background(), http.DefaultClient, srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zero coordinates")
}
