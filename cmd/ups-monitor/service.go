package main

import (
	"encoding/json"
	"errors"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"

	"github.com/x120x/ups-monitor/internal/monitor"
)

const (
	dbusName = "org.x120x.UPSMonitor"
	dbusPath = "/org/x120x/UPSMonitor"
)

type service struct {
	mon *monitor.Monitor
}

func startService(mon *monitor.Monitor) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{
		mon: mon,
	}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// Status returns the latest battery snapshot as JSON.
func (s service) Status() (string, *dbus.Error) {
	data, err := json.Marshal(s.mon.Snapshot())
	if err != nil {
		return "", makeDbusError(".Status", err)
	}
	return string(data), nil
}

// ChargingEnabled reports the intended state of the charge-enable line.
func (s service) ChargingEnabled() (bool, *dbus.Error) {
	return s.mon.Snapshot().ChargingEnabled, nil
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + name,
		Body: []interface{}{err.Error()},
	}
}
