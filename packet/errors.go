package packet

import "github.com/sandia-minimega/arpc/rpcerr"

var errMalformedCOBS = rpcerr.DataMismatch(nil)
