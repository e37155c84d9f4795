package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// GeoIPURL answers with the caller's approximate coordinates.
const GeoIPURL = "https://api.ipapi.is/"

type ipapiResponse struct {
	Location struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
}

// Locate races three requests to the GeoIP endpoint and returns the first
// usable answer.
func Locate(ctx context.Context, client *http.Client, endpoint string) (float64, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	const attempts = 3
	resultCh := make(chan ipapiResponse, attempts)
	errCh := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		go func() {
			res, err := locateOnce(ctx, client, endpoint)
			if err != nil {
				errCh <- err
				return
			}
			resultCh <- res
		}()
	}

	var errs []string
	for i := 0; i < attempts; i++ {
		select {
		case res := <-resultCh:
			return res.Location.Latitude, res.Location.Longitude, nil
		case err := <-errCh:
			errs = append(errs, err.Error())
		case <-ctx.Done():
			return 0, 0, errors.New("geoip timed out")
		}
	}
	return 0, 0, fmt.Errorf("geoip failed: %s", strings.Join(errs, "; "))
}

func locateOnce(ctx context.Context, client *http.Client, endpoint string) (ipapiResponse, error) {
	var res ipapiResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return res, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return res, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return res, fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return res, err
	}
	// 0,0 almost always means the lookup failed upstream
	if res.Location.Latitude == 0 && res.Location.Longitude == 0 {
		return res, errors.New("zero coordinates received")
	}
	return res, nil
}
