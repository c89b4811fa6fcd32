package proctor

import "github.com/prosetya/examgate/internal/model"

// Signal is a browser-level event reported by the exam client.
type Signal string

const (
	SignalFullscreenExit   Signal = "fullscreen_exit"
	SignalFullscreenDenied Signal = "fullscreen_denied"
	SignalHidden           Signal = "hidden"
	SignalVisible          Signal = "visible"
	SignalBlur             Signal = "blur"
	SignalFocus            Signal = "focus"
	SignalCopy             Signal = "copy"
	SignalPaste            Signal = "paste"
	SignalCut              Signal = "cut"
	SignalContextMenu      Signal = "context_menu"
	SignalPrint            Signal = "print"
)

// immediate maps signals that count as a violation the moment they arrive.
// Fullscreen exit is deliberately here: a genuine exit counts however brief.
var immediate = map[Signal]model.ViolationType{
	SignalFullscreenExit: model.ViolationFullscreenExit,
	SignalCopy:           model.ViolationCopyAttempt,
	SignalPaste:          model.ViolationPasteAttempt,
	SignalCut:            model.ViolationCutAttempt,
	SignalContextMenu:    model.ViolationContextMenu,
	SignalPrint:          model.ViolationPrintAttempt,
}

// debounced maps leave signals to the violation they become when sustained.
// Short accidental transitions (OS focus flicker) under the configured
// debounce window are not counted.
var debounced = map[Signal]model.ViolationType{
	SignalHidden: model.ViolationTabSwitch,
	SignalBlur:   model.ViolationFocusLoss,
}

// returns maps return signals back to the pending violation they resolve.
var returns = map[Signal]model.ViolationType{
	SignalVisible: model.ViolationTabSwitch,
	SignalFocus:   model.ViolationFocusLoss,
}

// RemediateFullscreen is the remediation command pushed to the client.
const RemediateFullscreen = "reenter_fullscreen"
