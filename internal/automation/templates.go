package automation

// Templates shipped with the bot. The Searcher resolves names to images.
const (
	// TplWorldButton is visible while the city (home) view is shown.
	TplWorldButton Template = "game_home_world"
	// TplCityButton is visible while the world map is shown.
	TplCityButton  Template = "game_home_furnace"
	TplReconnect   Template = "game_home_reconnect"

	TplChiefOrderMenu               Template = "chief_order_menu_button"
	TplChiefOrderRushJob            Template = "chief_order_rush_job"
	TplChiefOrderUrgentMobilization Template = "chief_order_urgent_mobilisation"
	TplChiefOrderProductivityDay    Template = "chief_order_productivity_day"
	TplChiefOrderEnact              Template = "chief_order_enact_button"
	TplChiefOrderActive             Template = "chief_order_detail_active"
	TplChiefOrderCooldown           Template = "chief_order_detail_cooldown"

	TplExplorationClaim Template = "exploration_claim"

	TplNewSurvivors        Template = "game_home_new_survivors"
	TplNewSurvivorsWelcome Template = "game_home_new_survivors_welcome_in"
	TplNewSurvivorsPlus    Template = "game_home_new_survivors_plus_button"

	TplTriumphButton       Template = "alliance_triumph_button"
	TplTriumphDaily        Template = "alliance_triumph_daily"
	TplTriumphDailyClaimed Template = "alliance_triumph_daily_claimed"
	TplTriumphWeekly       Template = "alliance_triumph_weekly"

	TplMyriadBazaarIcon Template = "events_myriad_bazaar_icon"
	TplClaimButton      Template = "daily_mission_claim_button"

	TplProfileSettings       Template = "game_profile_settings_button"
	TplSwitchCharacter       Template = "game_profile_settings_switch_character_button"
	TplCharacterEntry        Template = "game_profile_character_entry"
	TplSwitchCharacterPrompt Template = "game_profile_switch_character_confirm"
)
