//go:build linux

package theme

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	portalDest      = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	settingsIface   = "org.freedesktop.portal.Settings"
	appearanceNS    = "org.freedesktop.appearance"
	colorSchemeKey  = "color-scheme"
	// Portal values: 0 no preference, 1 prefer dark, 2 prefer light.
	colorSchemeDark = uint32(1)
)

// portalSource reads the desktop appearance through the XDG settings portal
// on the session bus and listens for SettingChanged signals.
type portalSource struct {
	conn *dbus.Conn
}

// NewOSSignalSource connects to the session bus. On headless systems with no
// bus the caller should fall back to NewStaticSource.
func NewOSSignalSource() (SignalSource, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to session bus: %w", err)
	}
	return &portalSource{conn: conn}, nil
}

func (p *portalSource) Current(ctx context.Context) (Scheme, error) {
	obj := p.conn.Object(portalDest, portalPath)

	var out dbus.Variant
	call := obj.CallWithContext(ctx, settingsIface+".Read", 0, appearanceNS, colorSchemeKey)
	if call.Err != nil {
		return SchemeLight, fmt.Errorf("reading %s %s: %w", appearanceNS, colorSchemeKey, call.Err)
	}
	if err := call.Store(&out); err != nil {
		return SchemeLight, fmt.Errorf("unpacking setting: %w", err)
	}

	return schemeFromVariant(out), nil
}

func (p *portalSource) Watch(ctx context.Context) (<-chan Scheme, error) {
	if err := p.conn.AddMatchSignalContext(ctx,
		dbus.WithMatchObjectPath(portalPath),
		dbus.WithMatchInterface(settingsIface),
		dbus.WithMatchMember("SettingChanged"),
	); err != nil {
		return nil, fmt.Errorf("subscribing to setting changes: %w", err)
	}

	signals := make(chan *dbus.Signal, 8)
	p.conn.Signal(signals)

	ch := make(chan Scheme)
	go func() {
		defer close(ch)
		defer p.conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				scheme, ok := schemeFromSignal(sig)
				if !ok {
					continue
				}
				select {
				case ch <- scheme:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

// schemeFromSignal extracts the color scheme from a SettingChanged signal
// (namespace string, key string, value variant). Other settings are ignored.
func schemeFromSignal(sig *dbus.Signal) (Scheme, bool) {
	if len(sig.Body) != 3 {
		return SchemeLight, false
	}
	ns, ok := sig.Body[0].(string)
	if !ok || ns != appearanceNS {
		return SchemeLight, false
	}
	key, ok := sig.Body[1].(string)
	if !ok || key != colorSchemeKey {
		return SchemeLight, false
	}
	variant, ok := sig.Body[2].(dbus.Variant)
	if !ok {
		return SchemeLight, false
	}
	return schemeFromVariant(variant), true
}

// schemeFromVariant unwraps the (possibly nested) variant to the portal's
// uint32 color-scheme value. Anything but prefer-dark reads as light.
func schemeFromVariant(v dbus.Variant) Scheme {
	value := v.Value()
	if inner, ok := value.(dbus.Variant); ok {
		value = inner.Value()
	}
	if code, ok := value.(uint32); ok && code == colorSchemeDark {
		return SchemeDark
	}
	return SchemeLight
}
