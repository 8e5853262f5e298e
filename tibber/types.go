// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

package tibber

import (
	"time"

	"github.com/homewatt/homewatt/prices"
)

// Address is a home's registered street address.
type Address struct {
	Address1   string `json:"address1"`
	PostalCode string `json:"postalCode"`
	City       string `json:"city"`
	Latitude   string `json:"latitude"`
	Longitude  string `json:"longitude"`
}

// HomeFeatures lists per-home provider capabilities.
type HomeFeatures struct {
	RealTimeConsumptionEnabled bool `json:"realTimeConsumptionEnabled"`
}

// HomeSubscription is the provider-side contract status for a home.
type HomeSubscription struct {
	Status string `json:"status"`
}

// Home is a registered home on the provider account. Features and
// CurrentSubscription can be absent for homes without an active contract.
type Home struct {
	ID                  string            `json:"id"`
	TimeZone            string            `json:"timeZone"`
	Address             Address           `json:"address"`
	Features            *HomeFeatures     `json:"features"`
	CurrentSubscription *HomeSubscription `json:"currentSubscription"`
}

// ConsumptionNode is one aggregated consumption interval. The numeric
// fields are pointers: the provider reports null for intervals it has not
// settled yet.
type ConsumptionNode struct {
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
	Consumption     *float64  `json:"consumption"`
	ConsumptionUnit string    `json:"consumptionUnit,omitempty"`
	TotalCost       *float64  `json:"totalCost"`
	UnitCost        *float64  `json:"unitCost,omitempty"`
	UnitPrice       *float64  `json:"unitPrice,omitempty"`
	UnitPriceVAT    *float64  `json:"unitPriceVAT,omitempty"`
}

// ConsumptionData holds the daily and hourly consumption series for a home.
type ConsumptionData struct {
	Daily  []ConsumptionNode
	Hourly []ConsumptionNode
}

// PushResult reports the outcome of a push notification mutation.
type PushResult struct {
	Successful              bool `json:"successful"`
	PushedToNumberOfDevices int  `json:"pushedToNumberOfDevices"`
}

// Wire envelopes for the GraphQL responses.

type consumptionNodes struct {
	Nodes []ConsumptionNode `json:"nodes"`
}

type homesResponse struct {
	Viewer struct {
		Homes                    []Home `json:"homes"`
		WebsocketSubscriptionURL string `json:"websocketSubscriptionUrl"`
	} `json:"viewer"`
}

type homeFeaturesResponse struct {
	Viewer struct {
		Home *struct {
			Features *HomeFeatures `json:"features"`
		} `json:"home"`
		WebsocketSubscriptionURL string `json:"websocketSubscriptionUrl"`
	} `json:"viewer"`
}

type priceInfoResponse struct {
	Viewer struct {
		Home *struct {
			CurrentSubscription *struct {
				PriceInfo *struct {
					Today    []prices.Entry `json:"today"`
					Tomorrow []prices.Entry `json:"tomorrow"`
				} `json:"priceInfo"`
			} `json:"currentSubscription"`
		} `json:"home"`
	} `json:"viewer"`
}

type consumptionResponse struct {
	Viewer struct {
		Home *struct {
			Daily  *consumptionNodes `json:"daily"`
			Hourly *consumptionNodes `json:"hourly"`
		} `json:"home"`
	} `json:"viewer"`
}

type pushResponse struct {
	SendPushNotification *PushResult `json:"sendPushNotification"`
}
