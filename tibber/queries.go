// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

package tibber

// GraphQL documents sent to the provider API. Parameters travel as GraphQL
// variables rather than string interpolation.

const homesQuery = `{
  viewer {
    homes {
      id
      timeZone
      address {
        address1
        postalCode
        city
        latitude
        longitude
      }
      features {
        realTimeConsumptionEnabled
      }
      currentSubscription {
        status
      }
    }
    websocketSubscriptionUrl
  }
}`

const homeFeaturesQuery = `query ($homeId: ID!) {
  viewer {
    home(id: $homeId) {
      features {
        realTimeConsumptionEnabled
      }
    }
    websocketSubscriptionUrl
  }
}`

const priceInfoQuery = `query ($homeId: ID!) {
  viewer {
    home(id: $homeId) {
      currentSubscription {
        priceInfo {
          today {
            total
            energy
            tax
            startsAt
            level
          }
          tomorrow {
            total
            energy
            tax
            startsAt
            level
          }
        }
      }
    }
  }
}`

const consumptionQuery = `query ($homeId: ID!, $days: Int!, $hours: Int!) {
  viewer {
    home(id: $homeId) {
      daily: consumption(resolution: DAILY, last: $days) {
        nodes {
          from
          to
          totalCost
          unitCost
          unitPrice
          unitPriceVAT
          consumption
          consumptionUnit
        }
      }
      hourly: consumption(resolution: HOURLY, last: $hours) {
        nodes {
          from
          to
          totalCost
          consumption
        }
      }
    }
  }
}`

const pushNotificationMutation = `mutation ($title: String!, $message: String!) {
  sendPushNotification(input: {
    title: $title,
    message: $message,
    screenToOpen: CONSUMPTION
  }) {
    successful
    pushedToNumberOfDevices
  }
}`

// liveMeasurementQuery is the subscription document sent over the websocket
// transport, not through the HTTP client.
const liveMeasurementQuery = `subscription ($homeId: ID!) {
  liveMeasurement(homeId: $homeId) {
    timestamp
    power
    lastMeterConsumption
    lastMeterProduction
    accumulatedConsumption
    accumulatedProduction
    accumulatedCost
    accumulatedReward
    currency
    minPower
    averagePower
    maxPower
    powerProduction
    currentL1
    currentL2
    currentL3
  }
}`
