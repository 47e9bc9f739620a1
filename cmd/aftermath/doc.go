// Command aftermath drives building-damage assessment runs: it resolves
// satellite imagery, launches example generation, coordinates human
// labeling, and submits training and inference jobs, recording every remote
// identifier so interrupted runs resume where they left off.
package main
