package directory

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/idanyas/speedtui/internal/data"
)

const earthRadiusKm = 6371.0

// ErrNoServers is returned when no list could be fetched or the list is empty.
var ErrNoServers = errors.New("no servers available")

type xmlSettings struct {
	Servers []xmlServer `xml:"servers>server"`
}

type xmlServer struct {
	ID      int     `xml:"id,attr"`
	URL     string  `xml:"url,attr"`
	Host    string  `xml:"host,attr"`
	Name    string  `xml:"name,attr"`
	Country string  `xml:"country,attr"`
	Sponsor string  `xml:"sponsor,attr"`
	Lat     float64 `xml:"lat,attr"`
	Lon     float64 `xml:"lon,attr"`
}

// Directory fetches the server list from the first URL that answers.
type Directory struct {
	client *http.Client
	urls   []string
	log    logrus.FieldLogger
}

func New(client *http.Client, urls []string, log logrus.FieldLogger) *Directory {
	return &Directory{
		client: client,
		urls:   urls,
		log:    log.WithField("component", "directory"),
	}
}

// Fetch tries each URL in order and returns the first non-empty server list.
func (d *Directory) Fetch(ctx context.Context) ([]data.Server, error) {
	var lastErr error
	for _, u := range d.urls {
		servers, err := d.fetchOne(ctx, u)
		if err != nil {
			d.log.WithError(err).WithField("url", u).Warn("server list unavailable")
			lastErr = err
			continue
		}
		if len(servers) == 0 {
			d.log.WithField("url", u).Warn("server list is empty")
			continue
		}
		d.log.WithFields(logrus.Fields{"url": u, "servers": len(servers)}).Info("server list fetched")
		return servers, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoServers, lastErr)
	}
	return nil, ErrNoServers
}

func (d *Directory) fetchOne(ctx context.Context, u string) ([]data.Server, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return Parse(resp.Body)
}

// Parse decodes a speedtest.net style server list.
func Parse(r io.Reader) ([]data.Server, error) {
	var doc xmlSettings
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse server list: %w", err)
	}

	servers := make([]data.Server, 0, len(doc.Servers))
	for _, s := range doc.Servers {
		if s.Host == "" && s.URL == "" {
			continue
		}
		servers = append(servers, data.Server{
			ID:      s.ID,
			Name:    s.Name,
			Country: s.Country,
			Sponsor: s.Sponsor,
			Host:    s.Host,
			URL:     s.URL,
			Lat:     s.Lat,
			Lon:     s.Lon,
		})
	}
	return servers, nil
}

// Select returns the server at index.
func Select(servers []data.Server, index int) (data.Server, error) {
	if len(servers) == 0 {
		return data.Server{}, ErrNoServers
	}
	if index < 0 || index >= len(servers) {
		return data.Server{}, fmt.Errorf("server index %d out of range (0..%d)", index, len(servers)-1)
	}
	return servers[index], nil
}

// TargetFor derives the measurement target of s. The host attribute wins;
// otherwise scheme and host are taken from the url attribute.
func TargetFor(s data.Server) (data.Target, error) {
	if s.Host != "" {
		return data.Target{Host: s.Host, URL: "http://" + s.Host}, nil
	}

	u, err := url.Parse(s.URL)
	if err != nil || u.Host == "" {
		return data.Target{}, fmt.Errorf("server %d has no usable host", s.ID)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return data.Target{Host: u.Host, URL: strings.TrimSuffix(scheme+"://"+u.Host, "/")}, nil
}

// SortByDistance fills Distance from the reference point and orders the
// servers nearest first, keeping list order for ties.
func SortByDistance(servers []data.Server, lat, lon float64) {
	for i := range servers {
		servers[i].Distance = haversine(lat, lon, servers[i].Lat, servers[i].Lon)
	}
	sort.SliceStable(servers, func(i, j int) bool {
		return servers[i].Distance < servers[j].Distance
	})
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * (math.Pi / 180.0)
	dLon := (lon2 - lon1) * (math.Pi / 180.0)

	lat1 = lat1 * (math.Pi / 180.0)
	lat2 = lat2 * (math.Pi / 180.0)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}
