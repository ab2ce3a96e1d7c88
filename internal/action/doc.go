// Package action exposes the three privileged wallet operations the decision
// oracle may call: check_deposit, swap and confiscate. Invocations never
// fail with an error; every outcome becomes a text payload.
package action
