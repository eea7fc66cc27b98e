// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package device

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RouteKey names one controllable property. The opaque route string a
// command is actually addressed to is firmware-specific and is taken
// verbatim from the latest snapshot; RouteKey only names which property.
type RouteKey int

const (
	RoutePower RouteKey = iota
	RouteBrightness
	RouteMode
	RouteActiveSceneIndex
	RouteActiveManualAnimationIndex
	RouteHueAuto
	RouteHueScene
	RouteHueManual
	RouteSaturationAuto
	RouteSaturationScene
	RouteSaturationManual
)

// hueRoute and saturationRoute return the per-mode route key for hue and
// saturation respectively.
func hueRoute(m Mode) RouteKey {
	switch m {
	case ModeScene:
		return RouteHueScene
	case ModeManual:
		return RouteHueManual
	default:
		return RouteHueAuto
	}
}

func saturationRoute(m Mode) RouteKey {
	switch m {
	case ModeScene:
		return RouteSaturationScene
	case ModeManual:
		return RouteSaturationManual
	default:
		return RouteSaturationAuto
	}
}

// lookupRoute returns the opaque route string for key, or
// ErrRoutesUnavailable if it has never been observed in a snapshot.
func lookupRoute(routes map[RouteKey]string, key RouteKey) (string, error) {
	if routes == nil {
		return "", ErrRoutesUnavailable
	}
	route, ok := routes[key]
	if !ok || route == "" {
		return "", ErrRoutesUnavailable
	}
	return route, nil
}

// EffectID is the flattened, user-facing identifier for a (mode, selection)
// pair: "auto", "scene:<index>", or "manual:<index>".
type EffectID string

// ParseEffectID decomposes id into a mode and, for scene/manual, a
// selection index. It returns ErrUnknownEffect if id does not match one of
// the three recognized forms.
func ParseEffectID(id EffectID) (mode Mode, index int, err error) {
	s := string(id)
	switch {
	case s == "auto":
		return ModeAuto, 0, nil

	case strings.HasPrefix(s, "scene:"):
		idx, perr := strconv.Atoi(strings.TrimPrefix(s, "scene:"))
		if perr != nil {
			return 0, 0, errors.Wrapf(ErrUnknownEffect, "%q: %s", id, perr)
		}
		return ModeScene, idx, nil

	case strings.HasPrefix(s, "manual:"):
		idx, perr := strconv.Atoi(strings.TrimPrefix(s, "manual:"))
		if perr != nil {
			return 0, 0, errors.Wrapf(ErrUnknownEffect, "%q: %s", id, perr)
		}
		return ModeManual, idx, nil

	default:
		return 0, 0, errors.Wrapf(ErrUnknownEffect, "%q", id)
	}
}

// animationCategoryPrefixes maps a model substring to the set of animation
// categories compatible with it. A model that matches none of these keys is
// compatible only with "generic".
var animationCategoryPrefixes = map[string][]string{
	"fluora": {"generic", "fluora", "fluora/audio"},
	"monos":  {"generic", "monos"},
}

// compatibleCategories returns the set of animation categories compatible
// with model, matched by substring per animationCategoryPrefixes.
func compatibleCategories(model string) map[string]bool {
	lower := strings.ToLower(model)
	for substr, categories := range animationCategoryPrefixes {
		if strings.Contains(lower, substr) {
			set := make(map[string]bool, len(categories))
			for _, c := range categories {
				set[c] = true
			}
			return set
		}
	}
	return map[string]bool{"generic": true}
}

// isAnimationCompatible reports whether a manual-animation id (of the form
// "<category>::<name>") is compatible with model. An id without a
// "category::" prefix is always treated as compatible.
func isAnimationCompatible(model, animationID string) bool {
	category, _, ok := strings.Cut(animationID, "::")
	if !ok {
		return true
	}
	return compatibleCategories(model)[category]
}

// EffectInfo is a user-presentable entry in a device's effect list.
type EffectInfo struct {
	ID          EffectID
	DisplayName string
}

// EffectList projects a snapshot's scenes and manual-animation ids, filtered
// by model compatibility, into the flat EffectID namespace.
func EffectList(snap DeviceSnapshot) []EffectInfo {
	list := []EffectInfo{{ID: "auto", DisplayName: "Auto"}}

	for _, scene := range snap.Scenes {
		list = append(list, EffectInfo{
			ID:          EffectID("scene:" + strconv.Itoa(scene.Index)),
			DisplayName: scene.Label,
		})
	}

	for i, id := range snap.ManualAnimationIDs {
		if !isAnimationCompatible(snap.Model, id) {
			continue
		}
		_, name, ok := strings.Cut(id, "::")
		if !ok {
			name = id
		}
		list = append(list, EffectInfo{
			ID:          EffectID("manual:" + strconv.Itoa(i)),
			DisplayName: name,
		})
	}

	return list
}
