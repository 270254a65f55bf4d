package arena

import "github.com/pkg/errors"

// BudgetExceededError is the error returned from CreateBuffer or CreateTexture
// when the heap-class budget configured in CreateOptions would be exceeded.
// The returned handle is NilHandle and callers are expected to skip the
// dependent work rather than abort the frame.
var BudgetExceededError error = errors.New("heap budget exceeded")
