package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorSourceExhausted means every configured geodata endpoint failed; the cycle
// must abort before touching the store.
var ErrorSourceExhausted = errors.New("all geodata endpoints failed")
