package routines

import (
	"context"
	"strings"
	"time"

	"wosbot/internal/automation"
	"wosbot/internal/profile"
	logx "wosbot/pkg/logx"
)

const (
	characterSearchAttempts = 3
	characterNavDelay       = 500 * time.Millisecond
	characterListLoadDelay  = 2000 * time.Millisecond
	characterScrollDelay    = 1000 * time.Millisecond
	characterReloadDelay    = 5000 * time.Millisecond
)

var characterRead = automation.ReadOptions{MaxRetries: 3, RetryDelay: 300 * time.Millisecond}

var characterNavSearch = automation.SearchConfig{Threshold: 80, MaxAttempts: 3, Delay: 500 * time.Millisecond}

// characterSwitch verifies the logged-in character and switches to the
// configured one through the profile settings.
type characterSwitch struct {
	sc  *automation.Screen
	log logx.Logger
}

// verify opens the profile card and compares the OCR'd id and name. Either
// configured field matching is enough.
func (c *characterSwitch) verify(ctx context.Context, want profile.Character) (bool, error) {
	if err := c.sc.TapArea(ctx, areaProfileAvatar); err != nil {
		return false, err
	}
	if err := c.sc.Sleep(ctx, characterNavDelay); err != nil {
		return false, err
	}

	var idOK, nameOK bool
	if id := strings.TrimSpace(want.ID); id != "" {
		got, err := c.sc.ReadString(ctx, areaCharacterIDOCR, characterRead)
		if err != nil && ctx.Err() != nil {
			return false, ctx.Err()
		}
		idOK = err == nil && got == id
		c.log.Debug("character id check", logx.String("read", got), logx.Bool("match", idOK))
	}
	if name := strings.TrimSpace(want.Name); name != "" {
		got, err := c.sc.ReadString(ctx, areaCharacterNameOCR, characterRead)
		if err != nil && ctx.Err() != nil {
			return false, ctx.Err()
		}
		nameOK = err == nil && namesMatch(got, name)
		c.log.Debug("character name check", logx.String("read", got), logx.Bool("match", nameOK))
	}

	if idOK || nameOK {
		return true, c.sc.Back(ctx)
	}
	return false, nil
}

// switchTo walks settings → switch character → character list. When the
// character cannot be found the emulator is closed.
func (c *characterSwitch) switchTo(ctx context.Context, want profile.Character) (bool, error) {
	if strings.TrimSpace(want.Name) == "" {
		c.log.Error("cannot switch character without a configured name")
		return false, nil
	}

	settingsCfg := characterNavSearch
	settingsCfg.Area = &areaProfileSettings
	ok, err := c.findAndTap(ctx, automation.TplProfileSettings, settingsCfg)
	if err != nil || !ok {
		return false, err
	}
	ok, err = c.findAndTap(ctx, automation.TplSwitchCharacter, characterNavSearch)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, c.sc.Back(ctx)
	}
	if err := c.sc.Sleep(ctx, characterListLoadDelay); err != nil {
		return false, err
	}

	listCfg := automation.SearchConfig{Threshold: 80, MaxAttempts: 1, Area: &areaCharacterList, MaxResults: 8}
	for attempt := 0; attempt < characterSearchAttempts; attempt++ {
		entries, err := c.sc.FindAll(ctx, automation.TplCharacterEntry, listCfg)
		if err != nil {
			return false, err
		}
		for _, e := range entries {
			nameArea := automation.Rect(e.Point.X+40, e.Point.Y-30, e.Point.X+300, e.Point.Y+10)
			got, err := c.sc.ReadString(ctx, nameArea, characterRead)
			if err != nil {
				if ctx.Err() != nil {
					return false, ctx.Err()
				}
				continue
			}
			if !namesMatch(got, want.Name) {
				continue
			}
			c.log.Info("character found, switching", logx.String("name", got))
			if err := c.sc.TapThenWait(ctx, e.Point, characterNavDelay); err != nil {
				return false, err
			}
			promptCfg := characterNavSearch
			promptCfg.Area = &areaSwitchPromptButtons
			return c.findAndTap(ctx, automation.TplSwitchCharacterPrompt, promptCfg)
		}
		if err := c.sc.Swipe(ctx, pointListBottom, pointListTop); err != nil {
			return false, err
		}
		if err := c.sc.Sleep(ctx, characterScrollDelay); err != nil {
			return false, err
		}
	}

	c.log.Error("character not found, closing emulator", logx.Int("attempts", characterSearchAttempts))
	return false, c.sc.Devices().Emulator.Close(ctx, c.sc.Emulator())
}

func (c *characterSwitch) findAndTap(ctx context.Context, t automation.Template, cfg automation.SearchConfig) (bool, error) {
	m, err := c.sc.FindWith(ctx, t, cfg)
	if err != nil {
		return false, err
	}
	if !m.Found {
		c.log.Warn("template not found", logx.String("template", string(t)))
		return false, nil
	}
	return true, c.sc.TapThenWait(ctx, m.Point, characterNavDelay)
}

// namesMatch tolerates OCR noise around the name.
func namesMatch(read, want string) bool {
	r := strings.ToLower(strings.TrimSpace(read))
	w := strings.ToLower(strings.TrimSpace(want))
	if r == "" || w == "" {
		return false
	}
	return r == w || strings.Contains(r, w)
}
