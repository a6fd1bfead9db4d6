package transport

import "time"

// zeroTime clears a previously set write deadline on a net.Conn (the
// zero Time means "no deadline").
var zeroTime time.Time
