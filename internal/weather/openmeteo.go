// Package weather provides the daily forecast that drives the water balance
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/awaistahir/smart-sprinkler/internal/engine"
)

const openMeteoAPIBase = "https://api.open-meteo.com/v1/forecast"

// ErrForecastUnavailable is returned when no usable forecast can be obtained
var ErrForecastUnavailable = errors.New("forecast unavailable")

const (
	fetchRetries    = 3
	fetchMaxElapsed = 20 * time.Second

	breakerFailures = 3
	breakerOpen     = 2 * time.Minute
)

// OpenMeteoClient fetches daily forecasts from the Open-Meteo API
type OpenMeteoClient struct {
	httpClient *http.Client
	baseURL    string
	latitude   float64
	longitude  float64
	model      string
	breaker    *gobreaker.CircuitBreaker
	log        zerolog.Logger

	retryInterval time.Duration // first backoff wait, library default when zero
}

// NewOpenMeteoClient creates a new Open-Meteo client
func NewOpenMeteoClient(lat, lon float64, model string, log zerolog.Logger) *OpenMeteoClient {
	if model == "" {
		model = "best_match"
	}
	log = log.With().Str("component", "open-meteo").Logger()

	return &OpenMeteoClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    openMeteoAPIBase,
		latitude:   lat,
		longitude:  lon,
		model:      model,
		log:        log,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "open-meteo",
			Timeout: breakerOpen,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= breakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
		}),
	}
}

// WithBaseURL points the client at another endpoint
func (c *OpenMeteoClient) WithBaseURL(u string) *OpenMeteoClient {
	c.baseURL = u
	return c
}

// openMeteoResponse represents the API response
type openMeteoResponse struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Timezone         string  `json:"timezone"`
	UTCOffsetSeconds int     `json:"utc_offset_seconds"`
	Daily            struct {
		Time           []string  `json:"time"`
		Sunrise        []string  `json:"sunrise"`
		ET0            []float64 `json:"et0_fao_evapotranspiration"`
		Precipitation  []float64 `json:"precipitation_sum"`
		WeatherCode    []int     `json:"weather_code"`
		TemperatureMax []float64 `json:"temperature_2m_max"`
	} `json:"daily"`
}

// Daily fetches yesterday plus the next seven days
func (c *OpenMeteoClient) Daily(ctx context.Context) (*engine.Forecast, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchWithRetry(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrForecastUnavailable, err)
	}
	return res.(*engine.Forecast), nil
}

func (c *OpenMeteoClient) fetchWithRetry(ctx context.Context) (*engine.Forecast, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = fetchMaxElapsed
	if c.retryInterval > 0 {
		bo.InitialInterval = c.retryInterval
	}

	var forecast *engine.Forecast
	err := backoff.RetryNotify(func() error {
		f, err := c.fetch(ctx)
		if err != nil {
			return err
		}
		forecast = f
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, fetchRetries), ctx), func(err error, wait time.Duration) {
		c.log.Debug().Err(err).Dur("wait", wait).Msg("retrying forecast fetch")
	})

	return forecast, err
}

func (c *OpenMeteoClient) fetch(ctx context.Context) (*engine.Forecast, error) {
	params := url.Values{}
	params.Add("latitude", fmt.Sprintf("%.4f", c.latitude))
	params.Add("longitude", fmt.Sprintf("%.4f", c.longitude))
	params.Add("daily", "weather_code,temperature_2m_max,sunrise,precipitation_sum,et0_fao_evapotranspiration")
	params.Add("timezone", "auto")
	params.Add("past_days", "1")
	params.Add("forecast_days", "7")
	params.Add("models", c.model)

	fullURL := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}

	c.log.Debug().Msg("fetching data from open-meteo.com")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching forecast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		// Client errors will not fix themselves
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var meteoResp openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&meteoResp); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decoding response: %w", err))
	}

	f, err := meteoResp.forecast()
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return f, nil
}

// forecast converts the response; sunrise times are local to the reported offset
func (r *openMeteoResponse) forecast() (*engine.Forecast, error) {
	f := &engine.Forecast{
		Timezone:         r.Timezone,
		UTCOffsetSeconds: r.UTCOffsetSeconds,
		FetchedAt:        time.Now(),
	}
	loc := f.Location()

	f.Daily.Time = r.Daily.Time
	f.Daily.ET0 = r.Daily.ET0
	f.Daily.Precipitation = r.Daily.Precipitation
	f.Daily.WeatherCode = r.Daily.WeatherCode
	f.Daily.TemperatureMax = r.Daily.TemperatureMax

	f.Daily.Sunrise = make([]time.Time, 0, len(r.Daily.Sunrise))
	for _, s := range r.Daily.Sunrise {
		t, err := time.ParseInLocation("2006-01-02T15:04", s, loc)
		if err != nil {
			return nil, fmt.Errorf("parsing sunrise %q: %w", s, err)
		}
		f.Daily.Sunrise = append(f.Daily.Sunrise, t)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
