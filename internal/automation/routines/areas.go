package routines

import "wosbot/internal/automation"

// Screen regions on a 720x1280 client.
var (
	areaProfileAvatar       = automation.Rect(25, 25, 85, 85)
	areaCharacterIDOCR      = automation.Rect(300, 940, 465, 980)
	areaCharacterNameOCR    = automation.Rect(280, 890, 600, 930)
	areaProfileSettings     = automation.Rect(540, 1150, 720, 1250)
	areaCharacterList       = automation.Rect(60, 380, 660, 1100)
	areaSwitchPromptButtons = automation.Rect(50, 750, 670, 850)

	areaChiefOrderActiveOCR   = automation.Rect(270, 1040, 450, 1080)
	areaChiefOrderCooldownOCR = automation.Rect(270, 1040, 450, 1080)

	areaExplorationButton = automation.Rect(40, 1190, 100, 1250)
	areaExplorationClaim  = automation.Rect(560, 900, 670, 940)
	areaExplorationDone   = automation.Rect(230, 890, 490, 960)

	areaAllianceButton = automation.Rect(493, 1187, 561, 1240)

	areaBazaarRewards = automation.Rect(50, 280, 650, 580)

	pointSurvivorsTopBar = automation.Point{X: 309, Y: 20}
	pointListTop         = automation.Point{X: 340, Y: 610}
	pointListBottom      = automation.Point{X: 340, Y: 900}
)
