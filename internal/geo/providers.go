package geo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"visitguard/internal/httpx"
	"visitguard/internal/model"
	"visitguard/internal/util"
)

// Provider is one upstream geolocation source.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, ip string) (model.LocationResult, error)
}

// IPAPI queries ip-api.com's JSON endpoint.
type IPAPI struct {
	BaseURL string
	Client  *http.Client
}

type ipAPIResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
	ISP         string  `json:"isp"`
	Org         string  `json:"org"`
}

func (p *IPAPI) Name() string { return "ip-api" }

func (p *IPAPI) Lookup(ctx context.Context, ip string) (model.LocationResult, error) {
	endpoint := fmt.Sprintf("%s/json/%s?fields=status,message,country,countryCode,regionName,city,lat,lon,timezone,isp,org",
		strings.TrimRight(p.BaseURL, "/"), url.PathEscape(ip))
	var body ipAPIResponse
	if err := httpx.GetJSON(ctx, p.Client, endpoint, nil, &body); err != nil {
		return model.LocationResult{}, err
	}
	if body.Status != "success" {
		return model.LocationResult{}, fmt.Errorf("ip-api: %s", body.Message)
	}
	return model.LocationResult{
		Country:     body.Country,
		CountryCode: body.CountryCode,
		Region:      body.RegionName,
		City:        body.City,
		Lat:         body.Lat,
		Lon:         body.Lon,
		Timezone:    body.Timezone,
		ISP:         util.FirstNonEmpty(body.ISP, body.Org),
		Accuracy:    model.AccuracyHigh,
		Provider:    p.Name(),
	}, nil
}

// IPWhois queries ipwho.is.
type IPWhois struct {
	BaseURL string
	Client  *http.Client
}

type ipWhoisResponse struct {
	Success     bool    `json:"success"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"country_code"`
	Region      string  `json:"region"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timezone    struct {
		ID string `json:"id"`
	} `json:"timezone"`
	Connection struct {
		ISP string `json:"isp"`
		Org string `json:"org"`
	} `json:"connection"`
}

func (p *IPWhois) Name() string { return "ipwhois" }

func (p *IPWhois) Lookup(ctx context.Context, ip string) (model.LocationResult, error) {
	endpoint := strings.TrimRight(p.BaseURL, "/") + "/" + url.PathEscape(ip)
	var body ipWhoisResponse
	if err := httpx.GetJSON(ctx, p.Client, endpoint, nil, &body); err != nil {
		return model.LocationResult{}, err
	}
	if !body.Success {
		return model.LocationResult{}, fmt.Errorf("ipwhois: %s", body.Message)
	}
	return model.LocationResult{
		Country:     body.Country,
		CountryCode: body.CountryCode,
		Region:      body.Region,
		City:        body.City,
		Lat:         body.Latitude,
		Lon:         body.Longitude,
		Timezone:    body.Timezone.ID,
		ISP:         util.FirstNonEmpty(body.Connection.ISP, body.Connection.Org),
		Accuracy:    model.AccuracyMedium,
		Provider:    p.Name(),
	}, nil
}

// IPInfo queries ipinfo.io. It needs an API token.
type IPInfo struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type ipInfoResponse struct {
	Country  string `json:"country"`
	Region   string `json:"region"`
	City     string `json:"city"`
	Loc      string `json:"loc"`
	Org      string `json:"org"`
	Timezone string `json:"timezone"`
	Bogon    bool   `json:"bogon"`
}

func (p *IPInfo) Name() string { return "ipinfo" }

func (p *IPInfo) Lookup(ctx context.Context, ip string) (model.LocationResult, error) {
	endpoint := fmt.Sprintf("%s/%s/json", strings.TrimRight(p.BaseURL, "/"), url.PathEscape(ip))
	headers := map[string]string{"Authorization": "Bearer " + p.Token}
	var body ipInfoResponse
	if err := httpx.GetJSON(ctx, p.Client, endpoint, headers, &body); err != nil {
		return model.LocationResult{}, err
	}
	if body.Bogon {
		return model.LocationResult{}, errors.New("ipinfo: bogon address")
	}
	lat, lon := parseLoc(body.Loc)
	return model.LocationResult{
		Country:     body.Country,
		CountryCode: body.Country,
		Region:      body.Region,
		City:        body.City,
		Lat:         lat,
		Lon:         lon,
		Timezone:    body.Timezone,
		ISP:         stripASN(body.Org),
		Accuracy:    model.AccuracyMedium,
		Provider:    p.Name(),
	}, nil
}

func parseLoc(loc string) (float64, float64) {
	latStr, lonStr, ok := strings.Cut(loc, ",")
	if !ok {
		return 0, 0
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return lat, lon
}

// stripASN turns "AS15169 Google LLC" into "Google LLC".
func stripASN(org string) string {
	if strings.HasPrefix(org, "AS") {
		if _, rest, ok := strings.Cut(org, " "); ok {
			return rest
		}
	}
	return org
}
