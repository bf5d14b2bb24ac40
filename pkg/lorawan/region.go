package lorawan

import (
	"fmt"
	"strings"
)

// RegionConfiguration holds the per-region limits a single-channel gateway enforces on downlinks
type RegionConfiguration struct {
	Name             string
	TxFreqMin        uint32 // Hz
	TxFreqMax        uint32 // Hz
	MaxTxPower       int    // dBm
	DefaultFrequency uint32 // 单信道网关默认监听频率
	DataRates        []DataRate
}

// GetRegionConfiguration returns configuration for a region
func GetRegionConfiguration(region string) (*RegionConfiguration, error) {
	switch strings.ToUpper(region) {
	case "EU868", "":
		return &EU868Configuration, nil
	case "US915":
		return &US915Configuration, nil
	case "CN470", "CN470_510":
		return &CN470Configuration, nil
	case "AS923":
		return &AS923Configuration, nil
	case "AU915":
		return &AU915Configuration, nil
	case "IN865":
		return &IN865Configuration, nil
	case "KR920":
		return &KR920Configuration, nil
	default:
		return nil, fmt.Errorf("unknown region %q", region)
	}
}

// DataRateIndex returns the DRx index of a datarate in this region, -1 when absent
func (r *RegionConfiguration) DataRateIndex(dr DataRate) int {
	for i, d := range r.DataRates {
		if d == dr {
			return i
		}
	}
	return -1
}

// ValidateFrequency reports whether freq lies inside the TX band
func (r *RegionConfiguration) ValidateFrequency(freq uint32) bool {
	return freq >= r.TxFreqMin && freq <= r.TxFreqMax
}

var euDataRates = []DataRate{
	{SpreadFactor: 12, Bandwidth: BW125}, // DR0
	{SpreadFactor: 11, Bandwidth: BW125}, // DR1
	{SpreadFactor: 10, Bandwidth: BW125}, // DR2
	{SpreadFactor: 9, Bandwidth: BW125},  // DR3
	{SpreadFactor: 8, Bandwidth: BW125},  // DR4
	{SpreadFactor: 7, Bandwidth: BW125},  // DR5
	{SpreadFactor: 7, Bandwidth: BW250},  // DR6
}

// EU868Configuration for EU 868MHz band
var EU868Configuration = RegionConfiguration{
	Name:             "EU868",
	TxFreqMin:        863000000,
	TxFreqMax:        870000000,
	MaxTxPower:       16,
	DefaultFrequency: 868100000,
	DataRates:        euDataRates,
}

// US915Configuration for US 915MHz band
var US915Configuration = RegionConfiguration{
	Name:             "US915",
	TxFreqMin:        923000000,
	TxFreqMax:        928000000,
	MaxTxPower:       30,
	DefaultFrequency: 902300000,
	DataRates: []DataRate{
		{SpreadFactor: 10, Bandwidth: BW125}, // DR0
		{SpreadFactor: 9, Bandwidth: BW125},  // DR1
		{SpreadFactor: 8, Bandwidth: BW125},  // DR2
		{SpreadFactor: 7, Bandwidth: BW125},  // DR3
		{SpreadFactor: 8, Bandwidth: BW500},  // DR4
	},
}

// CN470Configuration for CN 470-510MHz band
var CN470Configuration = RegionConfiguration{
	Name:             "CN470",
	TxFreqMin:        470000000,
	TxFreqMax:        510000000,
	MaxTxPower:       19,
	DefaultFrequency: 470300000,
	DataRates:        euDataRates[:6],
}

// AS923Configuration for AS 923MHz band
var AS923Configuration = RegionConfiguration{
	Name:             "AS923",
	TxFreqMin:        915000000,
	TxFreqMax:        928000000,
	MaxTxPower:       16,
	DefaultFrequency: 923200000,
	DataRates:        euDataRates,
}

// AU915Configuration for AU 915MHz band
var AU915Configuration = RegionConfiguration{
	Name:             "AU915",
	TxFreqMin:        923000000,
	TxFreqMax:        928000000,
	MaxTxPower:       30,
	DefaultFrequency: 916800000,
	DataRates: []DataRate{
		{SpreadFactor: 12, Bandwidth: BW125}, // DR0
		{SpreadFactor: 11, Bandwidth: BW125}, // DR1
		{SpreadFactor: 10, Bandwidth: BW125}, // DR2
		{SpreadFactor: 9, Bandwidth: BW125},  // DR3
		{SpreadFactor: 8, Bandwidth: BW125},  // DR4
		{SpreadFactor: 7, Bandwidth: BW125},  // DR5
		{SpreadFactor: 8, Bandwidth: BW500},  // DR6
	},
}

// IN865Configuration for IN 865MHz band
var IN865Configuration = RegionConfiguration{
	Name:             "IN865",
	TxFreqMin:        865000000,
	TxFreqMax:        867000000,
	MaxTxPower:       30,
	DefaultFrequency: 865062500,
	DataRates:        euDataRates[:6],
}

// KR920Configuration for KR 920MHz band
var KR920Configuration = RegionConfiguration{
	Name:             "KR920",
	TxFreqMin:        920900000,
	TxFreqMax:        923300000,
	MaxTxPower:       23,
	DefaultFrequency: 922100000,
	DataRates:        euDataRates[:6],
}
