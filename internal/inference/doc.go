// Package inference submits the prediction job that scores every building
// in the area of interest with the trained model.
//
// A trained checkpoint is required; the operator can override the saved one
// with an explicit flag. The job writes a GeoJSON file of per-building
// damage predictions, and its path is the pipeline's final output.
package inference
