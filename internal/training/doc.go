// Package training submits the train and eval custom jobs and selects the
// checkpoint the inference stage should load.
//
// Supervised runs train on the assembled labeled dataset; semi-supervised
// runs additionally feed the unlabeled example set. Checkpoint selection
// lists the model directory after eval finishes and picks the newest
// checkpoint written there.
package training
