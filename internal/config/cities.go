package config

import (
	"fmt"
	"strings"
)

// City 描述一个温度合约系列及其观测点。
type City struct {
	Name     string
	Series   string
	Lat      float64
	Lon      float64
	Timezone string
}

var cities = []City{
	{Name: "New York", Series: "KXHIGHNY", Lat: 40.7128, Lon: -74.0060, Timezone: "America/New_York"},
	{Name: "Chicago", Series: "KXHIGHCHI", Lat: 41.8781, Lon: -87.6298, Timezone: "America/Chicago"},
	{Name: "Miami", Series: "KXHIGHMI", Lat: 25.7617, Lon: -80.1918, Timezone: "America/New_York"},
	{Name: "Austin", Series: "KXHIGHAT", Lat: 30.2672, Lon: -97.7431, Timezone: "America/Chicago"},
}

// Cities 返回内置城市列表的副本。
func Cities() []City {
	out := make([]City, len(cities))
	copy(out, cities)
	return out
}

// LookupCity 按系列代码或城市名查找。
func LookupCity(key string) (City, bool) {
	key = strings.TrimSpace(key)
	for _, c := range cities {
		if strings.EqualFold(c.Series, key) || strings.EqualFold(c.Name, key) {
			return c, true
		}
	}
	return City{}, false
}

// applyCity 用城市目录补全未显式配置的坐标、时区与系列。
func (c *Config) applyCity() error {
	if c.Weather.City == "" {
		return nil
	}
	city, ok := LookupCity(c.Weather.City)
	if !ok {
		if c.Weather.Latitude == 0 && c.Weather.Longitude == 0 {
			return fmt.Errorf("未知城市 %q，且未配置经纬度", c.Weather.City)
		}
		return nil
	}
	if c.Weather.Latitude == 0 && c.Weather.Longitude == 0 {
		c.Weather.Latitude = city.Lat
		c.Weather.Longitude = city.Lon
	}
	if c.Weather.Timezone == "" {
		c.Weather.Timezone = city.Timezone
	}
	if c.Exchange.Series == "" {
		c.Exchange.Series = city.Series
	}
	return nil
}
