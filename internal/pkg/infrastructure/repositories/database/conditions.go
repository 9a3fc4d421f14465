package database

import "time"

type Condition struct {
	DeviceID   *uint
	OwnerID    string
	Start      *time.Time
	End        *time.Time
	AlertsOnly bool
	Limit      int
}

type ConditionFunc func(*Condition) *Condition

func WithDeviceID(deviceID uint) ConditionFunc {
	return func(c *Condition) *Condition {
		c.DeviceID = &deviceID
		return c
	}
}

func WithOwner(ownerID string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.OwnerID = ownerID
		return c
	}
}

func WithStart(start time.Time) ConditionFunc {
	return func(c *Condition) *Condition {
		s := start.UTC()
		c.Start = &s
		return c
	}
}

func WithEnd(end time.Time) ConditionFunc {
	return func(c *Condition) *Condition {
		e := end.UTC()
		c.End = &e
		return c
	}
}

func WithAlertsOnly() ConditionFunc {
	return func(c *Condition) *Condition {
		c.AlertsOnly = true
		return c
	}
}

func WithLimit(limit int) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Limit = limit
		return c
	}
}
