package fields

// Built-in catalog variants.
const (
	VariantNERIS     = "neris"
	VariantFire      = "fire"
	VariantNERISFire = "neris_fire"
)

const (
	groupCore = "core"
	groupFire = "fire"
)

var variantGroups = map[string][]string{
	VariantNERIS:     {groupCore},
	VariantFire:      {groupFire},
	VariantNERISFire: {groupCore, groupFire},
}

// Variants lists the built-in catalog names.
func Variants() []string {
	return []string{VariantNERIS, VariantFire, VariantNERISFire}
}

// nerisDescriptors follows the NERIS incident module field order; fire
// module fields come last.
var nerisDescriptors = []Descriptor{
	{Name: "incident_neris_id", Group: groupCore, Description: "NERIS-style incident id; provide matching format or an obvious placeholder if absent."},
	{Name: "incident_internal_id", Group: groupCore, Description: "Local/internal incident id used by the department."},
	{Name: "incident_final_type", Group: groupCore, Description: "Primary incident type(s) such as 'fire', 'medical', or 'hazsit'."},
	{Name: "incident_final_type_primary", Group: groupCore, Description: "Primary incident type when multiple types are present."},
	{Name: "incident_special_modifier", Group: groupCore, Description: "Any special modifiers (e.g., 'active assailant', 'mass_casualty_incident', 'FEDERAL_DECLARED_DISASTER')."},
	{Name: "fire", Group: groupCore, Description: "Whether this incident involved a fire ('true' or 'false' as strings)."},
	{Name: "medical", Group: groupCore, Description: "Whether this incident involved a medical event ('true' or 'false' as strings)."},
	{Name: "hazsit", Group: groupCore, Description: "Whether this incident was a hazardous situation ('true' or 'false' as strings)."},
	{Name: "emerging_hazard", Group: groupCore, Description: "Short description of any emerging hazard noted during the incident."},
	{Name: "tactic_timestamps", Group: groupCore, Description: "Tactics used (e.g., 'ventilation; attack') optionally with nearby times; join items with '; '."},
	{Name: "incident_point", Group: groupCore, Description: "Latitude and longitude in decimal degrees (WGS84) or empty string if unavailable."},
	{Name: "incident_polygon", Group: groupCore, Description: "Incident polygon in WGS84 coordinates or empty string if unavailable."},
	{Name: "incident_location", Group: groupCore, Description: "Address or description of incident location (street, city, ZIP)."},
	{Name: "incident_location_use", Group: groupCore, Description: "How the location was used (e.g., 'warehouse - storage')."},
	{Name: "incident_people_present", Group: groupCore, Description: "Whether people were present at time of incident ('true'/'false' as strings) or '' if unknown."},
	{Name: "incident_displaced_number", Group: groupCore, Description: "Number of people displaced (integer as string, e.g. '3'; '' if unknown)."},
	{Name: "incident_displaced_cause", Group: groupCore, Description: "Reason people were displaced (e.g., 'evacuation due to smoke')."},
	{Name: "exposure", Group: groupCore, Description: "Details of exposures (people, buildings, or nearby property)."},
	{Name: "rescue_ff", Group: groupCore, Description: "Summary of firefighter rescues/casualties and counts (short text)."},
	{Name: "rescue_nonff", Group: groupCore, Description: "Summary of non-firefighter rescues/casualties (civilians/animals) and counts (short text)."},
	{Name: "incident_rescue_animal", Group: groupCore, Description: "Number of animals rescued (integer as string, e.g. '2'; '' if none/unknown)."},
	{Name: "incident_actions_taken", Group: groupCore, Description: "List actions taken by fire department, joined with '; ' (e.g., 'extinguish; ventilate; search')."},
	{Name: "incident_noaction", Group: groupCore, Description: "If no action was taken, brief reason ('' if not applicable)."},
	{Name: "unit_response", Group: groupCore, Description: "Units that responded with arrival times if given (e.g., 'E201 19:47; L107 19:50')."},
	{Name: "risk_reduction", Group: groupCore, Description: "Risk-reduction systems present and function (e.g., 'smoke alarm present and operated; no sprinklers')."},
	{Name: "incident_aid_direction", Group: groupCore, Description: "'given' or 'received' as a string, or '' if none/unknown."},
	{Name: "incident_aid_type", Group: groupCore, Description: "Type of aid (e.g., 'mutual aid', 'automatic aid')."},
	{Name: "incident_aid_department_name", Group: groupCore, Description: "Name(s) of departments that gave or received aid (short list joined by '; ')."},
	{Name: "incident_aid_nonfd", Group: groupCore, Description: "Non-fire agencies that assisted (e.g., 'EMS; police'), joined by '; '."},
	{Name: "incident_narrative_impediment", Group: groupCore, Description: "Any obstacles or impediments (e.g., 'blocked hydrant', 'heavy traffic')."},
	{Name: "incident_narrative_outcome", Group: groupCore, Description: "One-sentence summary of the incident outcome."},
	{Name: "parcel", Group: groupCore, Description: "Parcel characteristics: property type, occupancy, and size if available (short)."},
	{Name: "weather", Group: groupCore, Description: "Brief weather summary during incident (temperature, wind, precipitation)."},

	{Name: "fire_suppression_appliance", Group: groupFire, Description: "Appliance(s) used to suppress the fire (e.g., 'engine; ladder'), joined by '; '."},
	{Name: "fire_water_supply", Group: groupFire, Description: "Type or source of water used at the incident (e.g., 'hydrant', 'tanker')."},
	{Name: "fire_investigation_need", Group: groupFire, Description: "Whether a formal fire investigation was judged necessary ('true'/'false' as strings)."},
	{Name: "fire_investigation_type", Group: groupFire, Description: "Category or type of investigation conducted (if any)."},
	{Name: "structure_arrival_conditions", Group: groupFire, Description: "Fire conditions observed when responders arrived."},
	{Name: "structure_progression_conditions", Group: groupFire, Description: "Whether the fire progressed beyond arrival conditions."},
	{Name: "structure_damage", Group: groupFire, Description: "Extent or rating of damage to the building of origin."},
	{Name: "structure_floor_of_origin", Group: groupFire, Description: "Floor or story where the fire originated (integer as string, e.g. '1')."},
	{Name: "structure_room_of_origin", Group: groupFire, Description: "Room or area where the fire started."},
	{Name: "structure_fire_cause", Group: groupFire, Description: "Likely or determined cause of the structure fire."},
	{Name: "outside_fire_cause", Group: groupFire, Description: "Likely or determined cause of the outdoor fire."},
	{Name: "outside_fire_acres_burned", Group: groupFire, Description: "Estimated number of acres burned in the outdoor fire (number as string)."},
}
